package creditmemo

import (
	"github.com/smallbiznis/reservebill/internal/creditmemo/repository"
	"github.com/smallbiznis/reservebill/internal/creditmemo/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditmemo.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
