package events

import (
	"outbound-pool/internal/common/logging"
)

// LogSink writes events as structured log lines
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a sink logging through logger
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrGlobal(logger).WithFields(logging.String("component", "outbound-pool"))}
}

// Emit logs e at a level matching its severity
func (s *LogSink) Emit(e Event) {
	fields := []logging.Field{logging.String("event", string(e.Type))}
	if e.RequestID != "" {
		fields = append(fields, logging.String("request_id", e.RequestID))
	}
	if e.HostKey != "" {
		fields = append(fields, logging.String("host_key", e.HostKey))
	}

	switch e.Type {
	case RequestStart:
		s.logger.Debug("Outbound request started", append(fields,
			logging.String("method", e.Method),
			logging.String("url", e.URL),
		)...)
	case RequestSuccess:
		s.logger.Debug("Outbound request succeeded", append(fields,
			logging.Int("status_code", e.StatusCode),
			logging.Int("attempt", e.Attempt),
			logging.Duration("duration", e.Duration),
		)...)
	case RequestRetry:
		s.logger.Info("Retrying outbound request", append(fields,
			logging.Int("attempt", e.Attempt),
			logging.Duration("delay", e.Delay),
			logging.String("error_type", e.ErrorType),
		)...)
	case RequestFailed:
		s.logger.Error("Outbound request failed", e.Err, append(fields,
			logging.Int("attempt", e.Attempt),
			logging.String("error_type", e.ErrorType),
			logging.Duration("duration", e.Duration),
		)...)
	case RequestCircuitRejected:
		s.logger.Warn("Outbound request rejected by open circuit", fields...)
	case RequestDeduplicated:
		s.logger.Debug("Outbound request shared an in-flight execution",
			append(fields, logging.String("dedup_key", e.DedupKey))...)
	case CircuitOpen:
		fields = append(fields,
			logging.String("from_state", e.FromState),
			logging.Duration("reopen_timeout", e.ReopenTimeout),
		)
		if e.NextAttemptAt != nil {
			fields = append(fields, logging.Time("next_attempt_at", *e.NextAttemptAt))
		}
		s.logger.Warn("Circuit opened", fields...)
	case CircuitHalfOpen, CircuitClosed:
		s.logger.Info("Circuit state changed", append(fields,
			logging.String("from_state", e.FromState),
			logging.String("to_state", e.ToState),
		)...)
	case BatchStart, BatchComplete:
		s.logger.Debug("Batch progress", append(fields,
			logging.String("batch_id", e.BatchID),
			logging.Int("batch_size", e.BatchSize),
			logging.Duration("duration", e.Duration),
		)...)
	default:
		s.logger.Debug("Outbound pool event", fields...)
	}
}
