// metrics.go - Prometheus instrumentation for the engine.
//
// Counters only; balances are derivable from the ledger and do not get
// a gauge that could drift from the source of truth.
package economy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsAccrued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "points_engine",
		Name:      "points_accrued_total",
		Help:      "Points credited to ledgers from ended usage sessions.",
	})

	redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points_engine",
		Name:      "redemptions_total",
		Help:      "Redemption attempts by outcome.",
	}, []string{"outcome"})

	windowsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "points_engine",
		Name:      "exemption_windows_expired_total",
		Help:      "Exemption windows that reached their deadline.",
	})

	windowsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "points_engine",
		Name:      "exemption_windows_cancelled_total",
		Help:      "Exemption windows cancelled before expiry.",
	})

	allocationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "points_engine",
		Name:      "allocation_fallbacks_total",
		Help:      "Redemption allocations that hit the stale-balance fallback.",
	})
)
