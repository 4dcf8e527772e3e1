package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reservebill/internal/audit"
	"github.com/smallbiznis/reservebill/internal/checkout"
	"github.com/smallbiznis/reservebill/internal/clock"
	"github.com/smallbiznis/reservebill/internal/config"
	"github.com/smallbiznis/reservebill/internal/creditmemo"
	"github.com/smallbiznis/reservebill/internal/invoice"
	"github.com/smallbiznis/reservebill/internal/logger"
	"github.com/smallbiznis/reservebill/internal/migration"
	"github.com/smallbiznis/reservebill/internal/milestone"
	"github.com/smallbiznis/reservebill/internal/notification"
	"github.com/smallbiznis/reservebill/internal/numbering"
	"github.com/smallbiznis/reservebill/internal/observability"
	"github.com/smallbiznis/reservebill/internal/payment"
	"github.com/smallbiznis/reservebill/internal/providers/stripe"
	"github.com/smallbiznis/reservebill/internal/ratelimit"
	"github.com/smallbiznis/reservebill/internal/server"
	"github.com/smallbiznis/reservebill/internal/settings"
	"github.com/smallbiznis/reservebill/internal/study"
	"github.com/smallbiznis/reservebill/internal/tenant"
	"github.com/smallbiznis/reservebill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		stripe.Module,

		// Billing domains
		audit.Module,
		settings.Module,
		numbering.Module,
		study.Module,
		tenant.Module,
		notification.Module,
		invoice.Module,
		creditmemo.Module,
		checkout.Module,
		milestone.Module,
		payment.Module,

		server.Module,
		fx.Invoke(func(s *server.Server) {
			s.RegisterAPIRoutes()
			s.RegisterWebhookRoutes()
			s.RegisterPublicRoutes()
			s.RegisterFallback()
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
