// Package logging wraps zap with context-aware methods for agentloop.
//
// Every method takes a context.Context and prepends the correlation
// fields found on it: the OpenTelemetry trace and span ids, the run id,
// the session id, the conversation id and the task type. Components add
// these once at the top of a run and every log line below inherits them:
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithSessionID(ctx, sessionID)
//	logger.Info(ctx, "iteration complete", zap.Int("iteration", n))
//
// Levels include a custom Trace level below Debug for prompt and payload
// dumps. Sampling applies to levels below Error only.
//
// Tests use NewTestLogger, which records entries in memory and offers
// assertions such as AssertLogged and AssertField.
package logging
