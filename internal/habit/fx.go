package habit

import (
	"github.com/stridehq/stride/internal/habit/repository"
	"github.com/stridehq/stride/internal/habit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("habit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
