// Package observability holds the ledger's Prometheus metrics and the
// lightweight metrics/health endpoint.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics bundles the ledger counters so services can take them by reference.
type Metrics struct {
	BetsPlaced       prometheus.Counter
	ParlaysPlaced    prometheus.Counter
	BetsCancelled    prometheus.Counter
	BetsSettled      *prometheus.CounterVec
	SettlementErrors prometheus.Counter
	StakeCents       prometheus.Counter
	PayoutCents      prometheus.Counter
}

// NewMetrics registers the ledger counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BetsPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_bets_placed_total",
			Help: "Straight bets accepted by the placement engine.",
		}),
		ParlaysPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_parlays_placed_total",
			Help: "Parlay slips accepted by the placement engine.",
		}),
		BetsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_bets_cancelled_total",
			Help: "Bets cancelled before event start.",
		}),
		BetsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_bets_settled_total",
			Help: "Bets and parlay slips settled, by result.",
		}, []string{"result"}),
		SettlementErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_settlement_errors_total",
			Help: "Per-bet settlement failures collected during batch runs.",
		}),
		StakeCents: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_stake_cents_total",
			Help: "Total stake debited from bankrolls, in cents.",
		}),
		PayoutCents: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_payout_cents_total",
			Help: "Total settlement credits returned to bankrolls, in cents.",
		}),
	}
}

// NewDefaultMetrics registers on the default Prometheus registry.
func NewDefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// HealthFunc reports process health for the /healthz endpoint.
type HealthFunc func(ctx context.Context) error

// StartServer starts a small HTTP server exposing /metrics and /healthz.
// It runs in its own goroutine; callers shut it down via the returned server.
func StartServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	return srv
}
