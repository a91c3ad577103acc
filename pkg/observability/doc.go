// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry setup for hiregate.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("permission", "jobs.create").Info("granted")
//
// Handlers use FromContext to get a logger annotated with the request id
// and the authenticated caller.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveDecision("allow", "role", elapsed)
//
// *Metrics satisfies the rbac.Recorder interface, so the permission
// checker, grant cache and grant store report into it directly.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("grant_store", store.Ping)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
