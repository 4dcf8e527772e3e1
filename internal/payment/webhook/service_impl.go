package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	"github.com/smallbiznis/reservebill/internal/clock"
	"github.com/smallbiznis/reservebill/internal/observability/metrics"
	"github.com/smallbiznis/reservebill/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        paymentdomain.Repository
	PaymentSvc  paymentdomain.Service
	Adapters    *adapters.Registry
	CheckoutSvc checkoutdomain.Service  `optional:"true"`
	TenantSvc   tenantdomain.Service    `optional:"true"`
	Metrics     *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        paymentdomain.Repository
	paymentSvc  paymentdomain.Service
	adapters    *adapters.Registry
	checkoutSvc checkoutdomain.Service
	tenantSvc   tenantdomain.Service
	metrics     *metrics.BillingMetrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.webhook"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		paymentSvc:  p.PaymentSvc,
		adapters:    p.Adapters,
		checkoutSvc: p.CheckoutSvc,
		tenantSvc:   p.TenantSvc,
		metrics:     p.Metrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !s.adapters.Has(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(provider, "unknown", metrics.WebhookResultRejected)
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.RecordWebhookEvent(provider, "unsupported", metrics.WebhookResultIgnored)
			return nil
		}
		return err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	stored, err := s.store(ctx, event)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			s.metrics.RecordWebhookEvent(provider, event.Type, metrics.WebhookResultDuplicate)
		}
		return err
	}

	tenantID, err := s.dispatch(ctx, event)
	if err != nil {
		s.metrics.RecordWebhookEvent(provider, event.Type, metrics.WebhookResultFailed)
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, tenantID, s.clock.Now()); err != nil {
		return err
	}
	s.metrics.RecordWebhookEvent(provider, event.Type, metrics.WebhookResultProcessed)
	return nil
}

// store inserts the event into the inbox, or returns the earlier copy when
// a previous delivery was stored but never finished.
func (s *Service) store(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.EventRecord, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return record, nil
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if existing.ProcessedAt != nil {
		return nil, paymentdomain.ErrEventAlreadyProcessed
	}
	return existing, nil
}

func (s *Service) dispatch(ctx context.Context, event *paymentdomain.PaymentEvent) (*snowflake.ID, error) {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		settlement, err := s.paymentSvc.OnPaymentSucceeded(ctx, paymentdomain.PaymentSucceeded{
			SessionID:        event.SessionID,
			PaymentReference: event.PaymentReference,
			InvoiceID:        event.InvoiceID,
			TenantID:         event.TenantID,
			AmountMinor:      event.AmountMinor,
			Currency:         event.Currency,
		})
		if errors.Is(err, paymentdomain.ErrPaymentAlreadyRecorded) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if settlement == nil {
			return nil, nil
		}
		tenantID := settlement.Invoice.TenantID
		return &tenantID, nil

	case paymentdomain.EventTypeSessionExpired:
		if s.checkoutSvc == nil {
			return nil, nil
		}
		if err := s.checkoutSvc.ExpireSession(ctx, event.SessionID); err != nil {
			s.log.Warn("failed to clear expired checkout session",
				zap.String("session_id", event.SessionID),
				zap.Error(err),
			)
		}
		return nil, nil

	case paymentdomain.EventTypeAccountUpdated:
		if s.tenantSvc == nil || event.Account == nil {
			return nil, nil
		}
		return nil, s.tenantSvc.SyncMarketplaceStatus(ctx, *event.Account)
	}

	return nil, paymentdomain.ErrInvalidEvent
}
