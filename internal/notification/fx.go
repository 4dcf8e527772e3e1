package notification

import (
	"github.com/smallbiznis/reservebill/internal/notification/service"
	"github.com/smallbiznis/reservebill/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	email.Module,
	fx.Provide(service.NewEmailNotifier),
)
