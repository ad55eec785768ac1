// Package relay forwards the envelopes broadcast on a page window to an
// inspection sink, over a named long-lived [Port].
//
// [Channel] is the page-side relay: it listens on a [page.Window], filters
// for messages tagged with [envelope.SourceTag], and sends them over a port
// created on first use. A disconnected port is never reused, and the
// channel stops listening until told otherwise.
//
// [Sender] is the variant for Go callers without a page: it implements the
// interceptor emitter interfaces directly, reconnecting on demand.
//
// Ports are created by a [Dialer]. [WebsocketDialer] connects to a remote
// sink; the panel package provides an in-process one.
package relay
