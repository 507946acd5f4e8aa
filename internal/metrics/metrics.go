// Package metrics exposes crowdfund counters in Prometheus format.
package metrics

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/crowdfund"
)

const namespace = "crowdfund"

// Registry holds the crowdfund collectors on a dedicated Prometheus registry.
// It implements crowdfund.Recorder.
type Registry struct {
	registry *prometheus.Registry

	Contributions      prometheus.Counter
	ContributedNative  prometheus.Counter
	ContributedUSD     prometheus.Counter
	Rejections         *prometheus.CounterVec
	Withdrawals        prometheus.Counter
	WithdrawnNative    prometheus.Counter
	WithdrawalFailures *prometheus.CounterVec
	Balance            prometheus.Gauge
}

// NewRegistry builds and registers every collector. Go runtime and process
// collectors are included so /metrics is useful on its own.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		Contributions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contributions_total",
			Help:      "Number of accepted contributions",
		}),
		ContributedNative: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contributed_native_total",
			Help:      "Native amount accepted across all contributions",
		}),
		ContributedUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contributed_usd_total",
			Help:      "USD value of accepted contributions at the time they were made",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contribution_rejections_total",
			Help:      "Rejected contributions by reason",
		}, []string{"reason"}),
		Withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Number of settled withdrawals",
		}),
		WithdrawnNative: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_native_total",
			Help:      "Native amount paid out to the owner",
		}),
		WithdrawalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_failures_total",
			Help:      "Failed withdrawals by reason",
		}, []string{"reason"}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_native",
			Help:      "Native amount currently held",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Contributions,
		r.ContributedNative,
		r.ContributedUSD,
		r.Rejections,
		r.Withdrawals,
		r.WithdrawnNative,
		r.WithdrawalFailures,
		r.Balance,
	)
	return r
}

// Handler serves the registry on a Fiber route.
func (r *Registry) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Registry) ContributionRecorded(amount, usd decimal.Decimal) {
	r.Contributions.Inc()
	r.ContributedNative.Add(amount.InexactFloat64())
	r.ContributedUSD.Add(usd.InexactFloat64())
}

func (r *Registry) ContributionRejected(err error) {
	r.Rejections.WithLabelValues(Reason(err)).Inc()
}

func (r *Registry) Withdrawn(amount decimal.Decimal) {
	r.Withdrawals.Inc()
	r.WithdrawnNative.Add(amount.InexactFloat64())
}

func (r *Registry) WithdrawFailed(err error) {
	r.WithdrawalFailures.WithLabelValues(Reason(err)).Inc()
}

func (r *Registry) BalanceChanged(balance decimal.Decimal) {
	r.Balance.Set(balance.InexactFloat64())
}

// Reason maps a ledger error to a bounded label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, crowdfund.ErrInsufficientAmount):
		return "insufficient_amount"
	case errors.Is(err, crowdfund.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, crowdfund.ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, crowdfund.ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, crowdfund.ErrPaymentRejected):
		return "payment_rejected"
	case errors.Is(err, crowdfund.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, crowdfund.ErrTransferFailed):
		return "transfer_failed"
	default:
		return "other"
	}
}
