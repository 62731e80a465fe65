// Package metrics aggregates attempt outcomes in memory for the end-of-run
// report.
//
// The [Collector] records one observation per attempt: the target address,
// how long the connect-and-write took and the resulting error, if any.
// Latencies go into an HDR histogram so percentiles stay cheap at high
// attempt rates:
//
//	collector := metrics.NewCollector()
//	collector.RecordAttempt("127.0.0.1:9000", latency, err)
//	stats := collector.Stats(elapsed)
//
// Failures are grouped by kind. Errors that implement Kind() string (the
// sender's connect and write errors do) are grouped under that label.
//
// The collector is safe for concurrent use. It is independent of the durable
// metrics table; losing it never loses a persisted outcome.
package metrics
