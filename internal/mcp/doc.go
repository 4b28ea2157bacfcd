// Package mcp implements the Model Context Protocol server over the HTTP+SSE transport.
//
// # Protocol
//
// A client first opens a stream:
//
//	GET /sse
//
// The first event names the endpoint for the client's requests:
//
//	event: endpoint
//	data: /messages?sessionId=<id>
//
// JSON-RPC 2.0 requests are then POSTed to that endpoint. Every response,
// including tool results, is delivered on the stream as a "message" event.
// Idle streams receive a ": keepalive" comment every KeepaliveInterval.
// Once Close has run, new streams are refused with 503.
//
// Supported methods are initialize, ping, tools/list and tools/call.
// Notifications are acknowledged with 202.
//
// # Tool Calls
//
// A tools/call POST is held open until its result has been pushed onto the
// stream. Each session runs at most one call at a time:
//
//	200  result (success or failure) is on the stream
//	400  unknown session, or the session closed before the result arrived
//	409  another call is in flight, or the request id was already used
//	500  the call did not finish within the completion timeout
//
// Tool failures are results, not transport errors:
//
//	{"isError": true, "content": [{"type": "text", "text": "Error: ..."}]}
//
// Successful results carry the platform's JSON response as their text:
//
//	{"content": [{"type": "text", "text": "{\"displayName\":\"...\"}"}]}
//
// # Coordinator
//
// The Coordinator owns the per-session state machine on top of
// session.Table. Closing a stream removes the session and releases any
// waiting POST in the same step.
package mcp
