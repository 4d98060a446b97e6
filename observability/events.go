package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"nftlend/core/types"
	"nftlend/native/flash"
	"nftlend/native/lending"
	"nftlend/native/payments"
	"nftlend/native/refinance"
)

type eventMetrics struct {
	events     *prometheus.CounterVec
	loans      *prometheus.CounterVec
	escrowed   prometheus.Counter
	flashLoans prometheus.Counter
	refinanced prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftlend",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Committed ledger events segmented by module and type.",
			}, []string{"module", "type"}),
			loans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftlend",
				Subsystem: "lending",
				Name:      "loans_total",
				Help:      "Loan lifecycle transitions segmented by offer type and outcome.",
			}, []string{"offer_type", "outcome"}),
			escrowed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nftlend",
				Subsystem: "payments",
				Name:      "escrowed_total",
				Help:      "Repayment legs escrowed because the recipient could not receive them.",
			}),
			flashLoans: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nftlend",
				Subsystem: "flash",
				Name:      "loans_total",
				Help:      "Flash loans repaid in full.",
			}),
			refinanced: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nftlend",
				Subsystem: "refinance",
				Name:      "refinanced_total",
				Help:      "Loans replaced through the refinancing engine.",
			}),
		}
		prometheus.MustRegister(
			eventRegistry.events,
			eventRegistry.loans,
			eventRegistry.escrowed,
			eventRegistry.flashLoans,
			eventRegistry.refinanced,
		)
	})
	return eventRegistry
}

var loanOutcomes = map[string]string{
	lending.EventTypeLoanStarted:      "started",
	lending.EventTypeLoanRepaid:       "repaid",
	lending.EventTypeLoanLiquidated:   "liquidated",
	lending.EventTypeLoanRenegotiated: "renegotiated",
}

// Record counts a batch of committed events. It has the signature of a
// ledger observer.
func (m *eventMetrics) Record(evts []types.Event) {
	if m == nil {
		return
	}
	for _, evt := range evts {
		module := evt.Type
		if idx := strings.IndexByte(module, '.'); idx > 0 {
			module = module[:idx]
		}
		m.events.WithLabelValues(module, evt.Type).Inc()

		if outcome, ok := loanOutcomes[evt.Type]; ok {
			offerType := evt.Attributes["offerType"]
			if offerType == "" {
				offerType = "unknown"
			}
			m.loans.WithLabelValues(offerType, outcome).Inc()
			continue
		}
		switch evt.Type {
		case payments.EventTypeEscrowed:
			m.escrowed.Inc()
		case flash.EventTypeFlashLoan:
			m.flashLoans.Inc()
		case refinance.EventTypeRefinanced:
			m.refinanced.Inc()
		}
	}
}
