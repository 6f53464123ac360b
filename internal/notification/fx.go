package notification

import (
	"github.com/ceylonbites/checkout/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.router",
	fx.Provide(service.NewService),
)
