/*
Package metrics exposes Prometheus collectors for the broker.

Queue depth is the broker's backpressure signal: the dispatch queue is
unbounded by design, so tacore_queue_depth (together with the queue_depth
field in the health response) is how operators observe overload. The
remaining collectors track request/reply volume, requeues after worker
disconnects, dispatch latency and pool liveness.

Metrics are served over HTTP at /metrics on the configured metrics port,
separate from all broker sockets.
*/
package metrics
