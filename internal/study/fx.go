package study

import (
	"github.com/smallbiznis/reservebill/internal/study/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("study.repository",
	fx.Provide(repository.ProvideDirectory),
	fx.Provide(repository.ProvideWorkflow),
)
