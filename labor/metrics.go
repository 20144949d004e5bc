package labor

// Metrics receives the counters the core emits. obs.Metrics is the Prometheus
// implementation; NopMetrics discards everything.
type Metrics interface {
	RateResolved(source RateSource, degraded bool)
	AuditWritten(action AuditAction)
	AuditWriteFailed(action AuditAction)
	EntryMutated(action AuditAction)
	BulkEntry(op BulkOp, ok bool)
	AuthorizationDegraded()
}

type NopMetrics struct{}

func (NopMetrics) RateResolved(RateSource, bool) {}
func (NopMetrics) AuditWritten(AuditAction)      {}
func (NopMetrics) AuditWriteFailed(AuditAction)  {}
func (NopMetrics) EntryMutated(AuditAction)      {}
func (NopMetrics) BulkEntry(BulkOp, bool)        {}
func (NopMetrics) AuthorizationDegraded()        {}
