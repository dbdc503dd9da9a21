package insight

import (
	"github.com/lunahealth/lumen/internal/insight/service"
	"go.uber.org/fx"
)

var Module = fx.Module("insight.service",
	fx.Provide(service.NewService),
)
