// Package envelope defines the canonical record of one observed gRPC-Web
// call event, and the normalizer that builds it.
//
// An [Envelope] is plain data. It is produced by [Normalize] from whatever
// the call-shape adapters observed (request messages, response messages,
// errors), and is always safe to serialize and hand across an execution
// context boundary: it holds no live object references, functions, or
// values that cannot round-trip through JSON.
//
// The JSON shape is the broadcast message shape:
//
//	{
//	  "source": "__GRPCWEB_DEVTOOLS__",
//	  "methodType": "unary" | "server_streaming",
//	  "method": "/pkg.Service/Method",
//	  "request": <data>,          // optional
//	  "response": <data>,         // optional
//	  "error": {"code": 3, "message": "..."} // optional
//	}
//
// At most one of response and error is ever populated, and the request is
// populated only on the initial event of a call.
package envelope
