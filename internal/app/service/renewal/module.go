package renewal

import "go.uber.org/fx"

// Module exposes the renewal scheduler via Fx.
var Module = fx.Options(
	fx.Provide(NewScheduler),
)
