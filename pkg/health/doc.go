/*
Package health serves the out-of-band liveness endpoint.

The monitor binds a REP socket on its own port and answers one synchronous
query at a time:

	{"method": "system.health", "id": 7}

replies with

	{"id": 7, "result": {"status": "healthy", "timestamp": ..., "workers": N,
	 "uptime": ..., "queue_depth": ...}}

and any other method name replies with error code -32601. The monitor never
touches the dispatch path; it reads only the broker's atomic counters, so
it stays responsive as an external liveness probe no matter how loaded the
routing loop is.
*/
package health
