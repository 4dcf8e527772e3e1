package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/reservebill/pkg/db"
	"github.com/smallbiznis/reservebill/pkg/errs"
)

// Config carries the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

const (
	CheckoutResultCreated  = "created"
	CheckoutResultReused   = "reused"
	CheckoutResultRejected = "rejected"
	CheckoutResultFailed   = "failed"
)

const (
	MilestoneResultGenerated = "generated"
	MilestoneResultSkipped   = "skipped"
	MilestoneResultFailed    = "failed"
)

const (
	WebhookResultProcessed = "processed"
	WebhookResultDuplicate = "duplicate"
	WebhookResultIgnored   = "ignored"
	WebhookResultRejected  = "rejected"
	WebhookResultFailed    = "failed"
)

const (
	ReasonDuplicate    = "duplicate"
	ReasonInvalidState = "invalid_state"
	ReasonValidation   = "validation"
	ReasonNotFound     = "not_found"
	ReasonTransient    = "transient_external"
	ReasonRetryableDB  = "retryable_db"
	ReasonDeadline     = "deadline_exceeded"
	ReasonUnknown      = "unknown"
)

// BillingMetrics captures invoice lifecycle and settlement health signals.
type BillingMetrics struct {
	checkoutSessions   *prometheus.CounterVec
	platformFees       prometheus.Counter
	paymentsSettled    *prometheus.CounterVec
	paymentDuplicates  prometheus.Counter
	settlementErrors   *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
	milestoneInvoices  *prometheus.CounterVec
	sequenceConflicts  *prometheus.CounterVec
	gatewayDuration    *prometheus.HistogramVec
	rateLimitDecisions *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the process-wide billing metrics registered on the
// default registerer.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig returns the singleton using cfg for constant labels on
// first use.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = NewBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// NewBillingMetrics registers a fresh set of instruments on registerer.
func NewBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "reservebill"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &BillingMetrics{
		checkoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reservebill_checkout_sessions_total",
			Help:        "Checkout session requests by outcome.",
			ConstLabels: constLabels,
		}, []string{"result", "routed"}),
		platformFees: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reservebill_platform_fee_minor_total",
			Help:        "Platform fees requested on routed checkout sessions, in minor units.",
			ConstLabels: constLabels,
		}),
		paymentsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reservebill_payments_settled_total",
			Help:        "Payments applied to invoices by source.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		paymentDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reservebill_payment_duplicates_total",
			Help:        "Gateway confirmations rejected because the payment was already recorded.",
			ConstLabels: constLabels,
		}),
		settlementErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reservebill_settlement_errors_total",
			Help:        "Settlement failures by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reservebill_webhook_events_total",
			Help:        "Inbound gateway webhook events by provider, type and result.",
			ConstLabels: constLabels,
		}, []string{"provider", "event_type", "result"}),
		milestoneInvoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reservebill_milestone_invoices_total",
			Help:        "Next-milestone invoice generation attempts by result.",
			ConstLabels: constLabels,
		}, []string{"milestone", "result"}),
		sequenceConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reservebill_sequence_conflicts_total",
			Help:        "Document number allocations that lost the version race.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "reservebill_gateway_request_duration_seconds",
			Help:        "Payment gateway call latency by operation.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"operation"}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reservebill_rate_limit_decisions_total",
			Help:        "Public endpoint rate limit decisions.",
			ConstLabels: constLabels,
		}, []string{"endpoint", "decision"}),
	}

	registerer.MustRegister(
		m.checkoutSessions,
		m.platformFees,
		m.paymentsSettled,
		m.paymentDuplicates,
		m.settlementErrors,
		m.webhookEvents,
		m.milestoneInvoices,
		m.sequenceConflicts,
		m.gatewayDuration,
		m.rateLimitDecisions,
	)
	return m
}

func (m *BillingMetrics) RecordCheckoutSession(result string, routed bool, feeMinor int64) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(result, boolLabel(routed)).Inc()
	if result == CheckoutResultCreated && feeMinor > 0 {
		m.platformFees.Add(float64(feeMinor))
	}
}

func (m *BillingMetrics) RecordPaymentSettled(source string) {
	if m == nil {
		return
	}
	m.paymentsSettled.WithLabelValues(strings.TrimSpace(source)).Inc()
}

func (m *BillingMetrics) RecordPaymentDuplicate() {
	if m == nil {
		return
	}
	m.paymentDuplicates.Inc()
}

func (m *BillingMetrics) RecordSettlementError(err error) {
	if m == nil || err == nil {
		return
	}
	m.settlementErrors.WithLabelValues(ClassifyReason(err)).Inc()
}

func (m *BillingMetrics) RecordWebhookEvent(provider, eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(
		strings.TrimSpace(provider),
		strings.TrimSpace(eventType),
		result,
	).Inc()
}

func (m *BillingMetrics) RecordMilestoneInvoice(milestone, result string) {
	if m == nil {
		return
	}
	m.milestoneInvoices.WithLabelValues(strings.TrimSpace(milestone), result).Inc()
}

func (m *BillingMetrics) RecordSequenceConflict(kind string) {
	if m == nil {
		return
	}
	m.sequenceConflicts.WithLabelValues(strings.TrimSpace(kind)).Inc()
}

// ObserveGatewayCall records the latency of a gateway operation started at start.
func (m *BillingMetrics) ObserveGatewayCall(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *BillingMetrics) RecordRateLimit(endpoint string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.rateLimitDecisions.WithLabelValues(endpoint, decision).Inc()
}

// ClassifyReason maps an error to a low-cardinality label value.
func ClassifyReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errs.IsDuplicate(err):
		return ReasonDuplicate
	case errs.IsInvalidState(err):
		return ReasonInvalidState
	case errs.IsValidation(err):
		return ReasonValidation
	case errs.IsNotFound(err):
		return ReasonNotFound
	case errs.IsTransientExternal(err):
		return ReasonTransient
	case db.IsRetryableTxErr(err):
		return ReasonRetryableDB
	case isDeadline(err):
		return ReasonDeadline
	default:
		return ReasonUnknown
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
