package usage

import (
	"github.com/smallbiznis/allowance/internal/usage/repository"
	"github.com/smallbiznis/allowance/internal/usage/service"
	"github.com/smallbiznis/allowance/internal/usage/virtual"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(virtual.NewMeter),
)
