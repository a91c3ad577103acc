// Package audit records security-relevant authorization events: grants,
// revocations, role permission replacement, catalog seeding and denied
// requests.
//
// Sinks implement Logger. DBLogger writes to the audit_logs table,
// LogrusLogger writes structured log lines and MultiLogger fans out to
// several sinks. AsyncLogger moves a slow sink off the request path onto an
// async.Pool.
//
//	pool := async.NewPool(ctx, "audit", 2, 1024, 5*time.Second, log)
//	sink := audit.NewMultiLogger(audit.NewLogrusLogger(log), audit.NewAsyncLogger(dbLogger, pool))
//	event := audit.NewEvent(ctx, audit.EventTypePermissionGrant, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypeUser
//	event.ResourceID = "42"
//	_ = sink.Log(ctx, event)
//
// Audit failures never fail the operation being audited; callers log them.
package audit
