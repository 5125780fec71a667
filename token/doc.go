// Package token frames opaque credentials as compact signed tokens.
//
// A token is three dot-separated segments. The header carries the algorithm
// and a key id, the payload carries the record identifier (jti), the expiry
// (exp), the purpose (aud) and the raw secret (sec), and the signature is an
// HMAC-SHA256 over both. The identifier is readable by anyone; it is only
// useful together with a valid signature and a secret matching the stored
// hash.
//
// # What this package must NOT do
//
//   - Touch storage. Lookup and hash comparison belong to the caller.
//   - Report why a token failed to decode. Every failure is [ErrInvalid].
package token
