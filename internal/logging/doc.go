// Package logging builds the contextdb zap logger.
//
// On top of a plain zap core it adds:
//   - a Trace level below Debug
//   - redaction of sensitive field names and value patterns
//   - sampling of repetitive entries below Error
//   - correlation fields (trace_id, span_id, request.id, database) taken
//     from the context
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.FromConfig(cfg.Logging), os.Stderr)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, id)
//	logger.Info(ctx, "document added", zap.String("document_id", docID))
//
// Packages that only need a *zap.Logger receive logger.Underlying().
package logging
