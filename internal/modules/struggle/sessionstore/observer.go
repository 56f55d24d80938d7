package sessionstore

import (
	"time"

	"github.com/yungbote/neurobridge-struggle/internal/domain/struggle"
)

// Observer receives operational events; metrics adapters implement it.
type Observer interface {
	OperationObserved(op string, d time.Duration, slow bool)
	SignalScored(score float64)
	InterventionFired(rec struggle.InterventionRecord)
	InterventionSuppressed(reason string)
	PersistFailed()
	SessionArchived(reason struggle.ArchiveReason)
	ActiveSessions(n int64)
}

type nopObserver struct{}

func (nopObserver) OperationObserved(string, time.Duration, bool) {}
func (nopObserver) SignalScored(float64)                          {}
func (nopObserver) InterventionFired(struggle.InterventionRecord) {}
func (nopObserver) InterventionSuppressed(string)                 {}
func (nopObserver) PersistFailed()                                {}
func (nopObserver) SessionArchived(struggle.ArchiveReason)        {}
func (nopObserver) ActiveSessions(int64)                          {}
