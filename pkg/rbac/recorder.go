package rbac

import (
	"database/sql"
	"time"
)

// Recorder receives authorization metrics. *observability.Metrics
// satisfies it.
type Recorder interface {
	ObserveDecision(decision, source string, duration time.Duration)
	ObserveDenial(guard, kind string)
	ObserveStoreOperation(operation string, err error)
	CacheHit(layer string)
	CacheMiss(layer string)
	SetGrantStats(permissions, roleGrants, userGrants int64)
	UpdateDBStats(stats sql.DBStats)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDecision(string, string, time.Duration) {}
func (noopRecorder) ObserveDenial(string, string)                  {}
func (noopRecorder) ObserveStoreOperation(string, error)           {}
func (noopRecorder) CacheHit(string)                               {}
func (noopRecorder) CacheMiss(string)                              {}
func (noopRecorder) SetGrantStats(int64, int64, int64)             {}
func (noopRecorder) UpdateDBStats(sql.DBStats)                     {}

func recorderOrNoop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}
