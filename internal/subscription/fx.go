package subscription

import (
	"github.com/ceylonbites/checkout/internal/payhere"
	subscriptiondomain "github.com/ceylonbites/checkout/internal/subscription/domain"
	"github.com/ceylonbites/checkout/internal/subscription/repository"
	"github.com/ceylonbites/checkout/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *payhere.Client) subscriptiondomain.RecurringCanceller { return c }),
	fx.Provide(service.NewService),
)
