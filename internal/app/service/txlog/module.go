package txlog

import "go.uber.org/fx"

// Module exposes the transaction log via Fx.
var Module = fx.Options(
	fx.Provide(New),
)
