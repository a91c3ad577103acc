// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Envelope
//
// Every response body is an Envelope:
//
//	{"success": true, "data": ...}
//	{"success": false, "error": {"kind": "forbidden", "message": "...", "required": [...], "caller_role": "..."}}
//
// Handlers return typed errors from pkg/errors and let WriteError pick the
// status code:
//
//	if err != nil {
//		httputil.WriteError(w, r, err)
//		return
//	}
//	httputil.WriteSuccess(w, grants)
//
// # Request Parsing
//
//	var req ReplaceRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication middleware
//   - pkg/rbac: Permission guards
package httputil
