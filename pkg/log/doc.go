/*
Package log provides structured logging for tacore using zerolog.

All components log through a single global zerolog instance initialized via
log.Init. Child loggers created with WithComponent and WithWorkerIndex carry their
context fields on every line, so broker routing decisions, worker lifecycle
events and health probe activity can be filtered apart in aggregated output.

JSON output is the production default; console output is available for
development:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	brokerLog := log.WithComponent("broker")
	brokerLog.Info().Str("endpoint", addr).Msg("frontend bound")
*/
package log
