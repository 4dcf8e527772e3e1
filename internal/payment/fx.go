package payment

import (
	"github.com/smallbiznis/reservebill/internal/config"
	"github.com/smallbiznis/reservebill/internal/payment/adapters"
	stripeadapter "github.com/smallbiznis/reservebill/internal/payment/adapters/stripe"
	"github.com/smallbiznis/reservebill/internal/payment/repository"
	"github.com/smallbiznis/reservebill/internal/payment/service"
	"github.com/smallbiznis/reservebill/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(adapters.SecretsFromConfig(cfg), stripeadapter.NewFactory())
	}),
	fx.Provide(webhook.NewService),
)
