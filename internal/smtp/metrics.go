package smtp

// Metrics receives sink telemetry; *metrics.SMTPMetrics implements it.
// Rejections are labelled by reason, e.g. "invalid_rcpt" or "too_many_conns".
type Metrics interface {
	IncRejected(reason string)
	ConnOpen()
	ConnClose()
}
