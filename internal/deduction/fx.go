package deduction

import "go.uber.org/fx"

var Module = fx.Module("deduction.service",
	fx.Provide(New),
)
