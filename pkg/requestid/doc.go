// Package requestid correlates admin API requests with the log records
// they produce. Middleware attaches an X-Request-ID to every request and
// LoggerExtractor plugs into logger.WithContextExtractors.
package requestid
