// Package logging builds the structured logger the daemon hands to
// every subsystem.
//
// # Overview
//
// The package configures Zap with:
//   - A custom Trace level (-2, below Debug) for wire-level detail
//   - Dual output (stdout JSON or console, plus an OpenTelemetry
//     bridge when a log provider is available)
//   - Defense-in-depth secret redaction at the encoder
//   - Level-aware sampling (warnings and below; errors never sampled)
//
// # Usage
//
// Build a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.New(cfg, otelProvider)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Components receive the resulting *zap.Logger as-is. Handlers that
// run inside a traced request attach correlation fields explicitly:
//
//	logger.Info("run submitted",
//	    append(logging.TraceFields(ctx), zap.String("run_id", id))...)
//
// # Redaction
//
// The stdout encoder redacts well-known credential field names and
// configurable value patterns before bytes leave the process. This is
// a second line of defense; callers still must not log secrets. Use
// logging.Secret or logging.RedactedString for values that are
// sensitive by construction.
package logging
