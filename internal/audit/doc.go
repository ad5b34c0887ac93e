// Package audit relays security events from the engine to pluggable sinks.
//
// # Components
//
//   - [Sink]: event consumer. Provided: [ChannelSink], [JSONWriterSink],
//     [SlogSink], [MultiSink] and [NoOpSink].
//   - [Dispatcher]: buffered async relay; a full buffer either drops or
//     blocks the emitter depending on Config.DropIfFull.
//   - [Event]: one record per security-relevant outcome.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. The engine decides which events
// to emit and what goes into Metadata.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import keystone or any sibling internal package.
//   - Receive plaintext secrets; callers never put tokens or codes in events.
package audit
