package routefeature

import (
	"github.com/smallbiznis/allowance/internal/routefeature/repository"
	"github.com/smallbiznis/allowance/internal/routefeature/service"
	"go.uber.org/fx"
)

var Module = fx.Module("routefeature.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewResolver),
)
