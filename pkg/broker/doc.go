/*
Package broker implements the dispatch core: the routing engine between
many clients and the worker pool.

Two ROUTER sockets are bound at startup, one client-facing, one
worker-facing. Receive pumps feed both sockets into a single routing loop,
so every routing decision is strictly ordered: no two decisions can race on
the same WorkerHandle or PendingRequest, and the routing tables need no
locking.

Dispatch policy is strict FIFO on the request queue with the first READY
worker winning. A worker never holds more than one request; it transitions
READY to BUSY on assignment and back on reply. If a worker disconnects or
its liveness expires while BUSY, its in-flight request is requeued at the
front of the queue, trading strict FIFO purity for at-least-once delivery.
Requests are never dropped for lack of capacity: the queue is unbounded and
its depth is exported as the backpressure signal.

Replies are routed address-exact to the connection identity recorded when
the request arrived. A reply whose client connection has vanished is logged
and dropped; the broker has no channel back to a disconnected client.

The only state shared outside the routing loop is a set of atomic counters
(live workers, queue depth, requests served) read by the health monitor.
*/
package broker
