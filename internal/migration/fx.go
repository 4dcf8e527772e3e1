package migration

import (
	"strings"

	auditdomain "github.com/smallbiznis/reservebill/internal/audit/domain"
	"github.com/smallbiznis/reservebill/internal/config"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/reservebill/internal/payment/domain"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
	studydomain "github.com/smallbiznis/reservebill/internal/study/domain"
	tenantdomain "github.com/smallbiznis/reservebill/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !strings.EqualFold(cfg.DBType, "postgres") {
			log.Info("non-postgres database, using schema auto migration", zap.String("db_type", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB, log.Named("migration"))
	}),
)

// AutoMigrate creates the schema from the gorm models. It serves the sqlite
// and mysql dialects, which the embedded postgres migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&tenantdomain.Tenant{},
		&settingsdomain.TenantInvoiceSettings{},
		&studydomain.Study{},
		&studydomain.ScheduledLine{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&creditmemodomain.CreditMemo{},
		&paymentdomain.PaymentRecord{},
		&paymentdomain.EventRecord{},
		&auditdomain.AuditLog{},
	)
}
