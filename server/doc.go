// Package server is the TCP front-end of the collector.
//
// A Server composes an event loop and a timer service supplied by the
// caller. Each Listen call binds a socket, accepts connections into a
// per-listener Registry and starts a Reaper that evicts idle connections
// once per second. Connections turn raw arrivals into messages, either
// verbatim or split on a caller-supplied delimiter.
//
// Everything in this package runs on the event loop goroutine and holds no
// locks. Callbacks must not block.
package server
