package quota

import "go.uber.org/fx"

// Module exposes the quota policy via Fx.
var Module = fx.Options(
	fx.Provide(NewPolicy),
)
