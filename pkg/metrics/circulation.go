package metrics

import "github.com/prometheus/client_golang/prometheus"

// Circulation events recorded by the ledger.
const (
	EventCreated  = "created"
	EventApproved = "approved"
	EventRejected = "rejected"
	EventReturned = "item_returned"
	EventConflict = "conflict"
)

// CirculationMetrics counts ledger outcomes and bulk import rows.
type CirculationMetrics struct {
	transactions *prometheus.CounterVec
	importRows   *prometheus.CounterVec
}

// NewCirculationMetrics registers the circulation counters on reg. A nil
// registerer yields a no-op recorder.
func NewCirculationMetrics(reg prometheus.Registerer) *CirculationMetrics {
	if reg == nil {
		return &CirculationMetrics{}
	}
	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "library_transactions_total",
		Help: "Borrow/return ledger events by outcome.",
	}, []string{"event"})
	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "library_import_rows_total",
		Help: "CSV import rows by kind and result.",
	}, []string{"kind", "result"})
	reg.MustRegister(transactions, importRows)
	return &CirculationMetrics{transactions: transactions, importRows: importRows}
}

// Record adds n to the counter for event.
func (c *CirculationMetrics) Record(event string, n int) {
	if c == nil || c.transactions == nil || n <= 0 {
		return
	}
	c.transactions.WithLabelValues(normalizeLabel(event)).Add(float64(n))
}

// RecordImport tallies the outcome of a CSV import run.
func (c *CirculationMetrics) RecordImport(kind string, succeeded, failed int) {
	if c == nil || c.importRows == nil {
		return
	}
	kind = normalizeLabel(kind)
	if succeeded > 0 {
		c.importRows.WithLabelValues(kind, "success").Add(float64(succeeded))
	}
	if failed > 0 {
		c.importRows.WithLabelValues(kind, "error").Add(float64(failed))
	}
}
