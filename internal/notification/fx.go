package notification

import (
	"github.com/lunahealth/lumen/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(
		service.NewService,
		service.NewDispatcher,
	),
)
