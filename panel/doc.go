// Package panel implements a reference inspection sink for relayed call
// events.
//
// A [Hub] accepts relay ports, validates every message they send, and fans
// the call events out to websocket viewers and Go subscribers. It keeps no
// history: a viewer sees the events received while it is connected.
//
// Wire format, from ports: one JSON text message per relay message, either
// {"action":"init"} or {"action":"gRPCNetworkCall","target":"panel",
// "data":<envelope>}. To viewers: one JSON text message per [Event].
package panel
