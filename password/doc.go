// Package password hashes passwords with Argon2id.
//
// Hashes use the PHC string format with unpadded base64:
//
//	$argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>
//
// Verify also accepts bcrypt hashes ($2a$, $2b$, $2y$) carried over from
// older user tables; NeedsRehash always reports those as stale so the caller
// can re-hash on the next successful login.
//
// This package does not store passwords and does not log.
package password
