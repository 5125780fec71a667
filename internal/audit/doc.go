// Package audit buffers trust-core audit events and delivers them to a
// Sink on a background goroutine.
//
// # Components
//
//   - [Event]: one record (type, user, session or token id, category, IP,
//     user agent, outcome).
//   - [Sink]: consumer interface. [NoOpSink], [ChannelSink],
//     [JSONWriterSink] and the zap-backed [ZapSink] ship here.
//   - [Dispatcher]: bounded queue that either drops or blocks when full.
//
// The package does not choose which events are emitted and does not import
// the root package.
package audit
