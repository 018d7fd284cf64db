/*
Package log provides structured logging for ConcordKV using zerolog.

A single package-level Logger is initialized once via Init and handed out to
every storage-core component through WithComponent/WithEngine/WithTxnID/
WithCoordinatorID/WithWALSegment child loggers, so a log line from deep
inside a B+Tree split or a 2PC prepare phase carries enough structured
context (component, engine kind, txn ID) to be queried without string
parsing.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	engLog := log.WithEngine("bplustree")
	engLog.Info().Str("key", string(k)).Msg("split leaf")
*/
package log
