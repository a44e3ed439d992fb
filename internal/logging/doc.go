// Package logging provides structured logging for coachd.
//
// Logger wraps zap and adds correlation fields carried on the context:
// trace and span ids from OpenTelemetry, the interview session id, the
// candidate's user id and the request id.
//
//	ctx = logging.WithSessionID(ctx, "sess_123")
//	logger.Info(ctx, "turn processed", zap.String("phase", "analysis"))
//
// Output can go to stdout, to an OpenTelemetry LoggerProvider through the
// otelzap bridge, or both. Entries below error level are sampled. Field
// names listed in the redaction config (utterance, resume and credentials by
// default) are replaced with their length before encoding.
//
// Tests use NewTestLogger and its Assert helpers.
package logging
