package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BreachesRepaired counts tickets repaired by the breach sweep.
	BreachesRepaired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_breaches_repaired_total",
		Help: "Tickets whose stale breach flags were repaired.",
	})
	// FirstResponsesBackfilled counts tickets backfilled by the
	// missed-first-response sweep.
	FirstResponsesBackfilled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_first_responses_backfilled_total",
		Help: "Tickets whose first-response outcome was backfilled.",
	})
	// SweepErrors counts sweep runs that returned an error.
	SweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sla_sweep_errors_total",
		Help: "Reconciliation sweep failures.",
	})
)

func init() {
	prometheus.MustRegister(BreachesRepaired, FirstResponsesBackfilled, SweepErrors)
}

// Handler exposes the default Prometheus registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
