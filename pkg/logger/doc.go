// Package logger provides a context-aware wrapper around log/slog: a single
// factory, New, configured by Option functions, plus attribute constructors
// that keep key names consistent across the delivery engine.
//
// New picks slog.NewTextHandler or slog.NewJSONHandler by Format and wraps it
// with LogHandlerDecorator, which runs registered ContextExtractor callbacks
// on every record.
//
// # Usage
//
//	import "github.com/dmitrymomot/courier/pkg/logger"
//
//	func main() {
//	    log := logger.FromConfig(cfg,
//	        logger.WithContextValue("request_id", ctxKeyRequestID),
//	    )
//	    logger.SetAsDefault(log)
//
//	    log.InfoContext(ctx, "job delivered",
//	        logger.JobID(job.ID.String()),
//	        logger.Queue("primary"),
//	        logger.Duration(time.Since(start)),
//	    )
//	}
//
// # Configuration
//
//   - WithDevelopment / WithStaging / WithProduction / WithEnvironment: presets per environment.
//   - FromConfig: the presets driven by APP_ENV, APP_NAME and LOG_LEVEL.
//   - WithFormat, WithLevel, WithOutput: override a preset.
//   - WithAttr: static attributes.
//   - WithContextExtractors / WithContextValue: attributes pulled from context.
//
// Error and Errors produce attributes only for non-nil errors, so
//
//	log.Info("sweep finished", logger.Error(err))
//
// needs no nil check.
package logger
