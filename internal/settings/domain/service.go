package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/reservebill/pkg/errs"
)

type Service interface {
	// Get returns the settings of the tenant in ctx, creating defaults lazily.
	Get(ctx context.Context) (*TenantInvoiceSettings, error)
	GetForTenant(ctx context.Context, tenantID snowflake.ID) (*TenantInvoiceSettings, error)
	Update(ctx context.Context, req UpdateSettingsRequest) (*TenantInvoiceSettings, error)
}

var (
	ErrInvalidTenant         = errs.Mark(errors.New("invalid_tenant"), errs.ErrValidation)
	ErrInvalidNumberFormat   = errs.Mark(errors.New("invalid_number_format"), errs.ErrValidation)
	ErrInvalidNumberPadding  = errs.Mark(errors.New("invalid_number_padding"), errs.ErrValidation)
	ErrInvalidResetFrequency = errs.Mark(errors.New("invalid_reset_frequency"), errs.ErrValidation)
	ErrInvalidPrefix         = errs.Mark(errors.New("invalid_prefix"), errs.ErrValidation)
	ErrInvalidPaymentTerms   = errs.Mark(errors.New("invalid_payment_terms"), errs.ErrValidation)
	ErrInvalidTaxRate        = errs.Mark(errors.New("invalid_tax_rate"), errs.ErrValidation)
	ErrSettingsConflict      = errs.Mark(errors.New("settings_conflict"), errs.ErrDuplicate)
)
