/*
Package pool manages the broker's fixed-size set of worker processes.

Workers run as isolated OS processes for true parallelism and fault
isolation: a hung computation in one worker cannot stall the routing loop
or its siblings. The manager spawns the broker's own binary with the worker
subcommand, holds exclusive ownership of the process handles, and never
touches the dispatch queue. The broker only ever sees workers through
their backend connections.

StartPool is all-or-nothing: if any launch fails, every already-started
worker is killed and the error is returned. StopPool sends SIGTERM, waits
up to the configured timeout, then SIGKILLs stragglers; it is idempotent
and safe to call when workers have already exited on their own.
*/
package pool
