/*
Package worker implements the runtime a pool worker process runs.

A worker dials the broker's backend endpoint with a DEALER socket carrying
a fresh connection identity, announces its pool index with a READY
handshake, then pulls one request at a time and produces exactly one reply
per request. The computation itself is injected as a Handler; the runtime
knows nothing about payload contents.

Heartbeats flow in both directions. The handler runs off the socket loop,
so a long computation never starves the worker's own heartbeats; if the
broker goes silent for several intervals the worker closes the connection
and redials with a new identity. Handler errors are not swallowed: they
come back to the client as a structured error payload, preserving the
one-reply-per-request contract.
*/
package worker
