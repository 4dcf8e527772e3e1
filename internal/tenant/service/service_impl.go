package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reservebill/internal/clock"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Repo  tenantdomain.Repository
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	repo  tenantdomain.Repository
}

func NewService(p Params) tenantdomain.Service {
	return &Service{
		log:   p.Log.Named("tenant.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	if id == 0 {
		return nil, tenantdomain.ErrInvalidTenant
	}
	tenant, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

// SyncMarketplaceStatus records the sub-account onboarding state pushed by
// the gateway. Unknown accounts are ignored.
func (s *Service) SyncMarketplaceStatus(ctx context.Context, status tenantdomain.MarketplaceStatus) error {
	if strings.TrimSpace(status.AccountID) == "" {
		return nil
	}
	updated, err := s.repo.UpdateMarketplaceStatus(ctx, status, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		s.log.Info("marketplace account not linked to a tenant",
			zap.String("account_id", status.AccountID),
		)
		return nil
	}
	s.log.Info("marketplace status synced",
		zap.String("account_id", status.AccountID),
		zap.Bool("onboarding_complete", status.OnboardingComplete),
		zap.Bool("payouts_enabled", status.PayoutsEnabled),
	)
	return nil
}
