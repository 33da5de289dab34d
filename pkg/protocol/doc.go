/*
Package protocol defines the wire format spoken on the broker's two ZeroMQ
endpoints.

Client side (frontend ROUTER): requests are a single opaque payload frame,
optionally preceded by a client-chosen correlation id frame. REQ and DEALER
clients are both accepted; the reply mirrors the request's framing so a REQ
client gets its empty delimiter back.

Worker side (backend ROUTER): every message starts with a single-byte
command frame (READY, REPLY, HEARTBEAT, DISCONNECT from the worker; REQUEST,
DISCONNECT from the broker). Replies carry the client identity and
correlation id the request was dispatched with, so the broker never has to
guess which in-flight request a reply belongs to.

Payload bytes are never interpreted here or anywhere else in the broker.
*/
package protocol
