package auth

import (
	"github.com/stridehq/stride/internal/auth/repository"
	"github.com/stridehq/stride/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
