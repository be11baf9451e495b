package server

import "github.com/VictoriaMetrics/metrics"

// Event-loop counters. The loop is the only writer; the metrics endpoint
// reads them from its own goroutine (the counters are atomic).
var (
	mConnsAccepted  = metrics.NewCounter("sable_connections_accepted_total")
	mConnsClosed    = metrics.NewCounter("sable_connections_closed_total")
	mConnsIdleTimeo = metrics.NewCounter(`sable_connections_timeout_total{kind="idle"}`)
	mConnsIOTimeo   = metrics.NewCounter(`sable_connections_timeout_total{kind="io"}`)
	mRequests       = metrics.NewCounter("sable_requests_total")
	mProtocolErrors = metrics.NewCounter("sable_protocol_errors_total")
	mKeysExpired    = metrics.NewCounter("sable_keys_expired_total")
	mBytesRead      = metrics.NewCounter("sable_bytes_read_total")
	mBytesWritten   = metrics.NewCounter("sable_bytes_written_total")
)
