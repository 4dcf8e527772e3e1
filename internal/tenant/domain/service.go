package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/reservebill/pkg/errs"
)

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
	SyncMarketplaceStatus(ctx context.Context, status MarketplaceStatus) error
}

var (
	ErrInvalidTenant  = errs.Mark(errors.New("invalid_tenant"), errs.ErrValidation)
	ErrTenantNotFound = errs.Mark(errors.New("tenant_not_found"), errs.ErrNotFound)
)
