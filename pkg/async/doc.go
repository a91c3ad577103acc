// Package async runs background work on a bounded worker pool.
//
// The pool is used where a request must not wait on a slow side effect,
// such as writing an audit record to the database:
//
//	pool := async.NewPool(ctx, "audit", 2, 1024, 5*time.Second, log)
//	defer pool.Shutdown(shutdownCtx)
//
//	if !pool.TrySubmit(func(ctx context.Context) error {
//		return store.Write(ctx, record)
//	}) {
//		// queue full: the record is dropped and counted
//	}
//
// Tasks get a context bounded by the pool timeout. Errors and panics are
// logged and counted; they never reach the submitter.
package async
