package numbering

import (
	"github.com/smallbiznis/reservebill/internal/numbering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("numbering.service",
	fx.Provide(service.NewService),
)
