package milestone

import (
	"github.com/smallbiznis/reservebill/internal/milestone/service"
	"go.uber.org/fx"
)

var Module = fx.Module("milestone.service",
	fx.Provide(service.NewService),
)
