package payhere

import "go.uber.org/fx"

var Module = fx.Module("payhere",
	fx.Provide(NewClient),
)
