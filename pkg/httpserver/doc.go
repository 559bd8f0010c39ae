// Package httpserver runs an http.Handler with sane timeouts and graceful
// shutdown bound to a context, and provides liveness/readiness probes.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// Run returns once ctx is cancelled and in-flight requests drained, or
// ShutdownTimeout elapsed.
package httpserver
