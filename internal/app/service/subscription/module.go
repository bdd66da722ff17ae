package subscription

import "go.uber.org/fx"

// Module exposes the subscription provider via Fx.
var Module = fx.Options(
	fx.Provide(NewStoreProvider),
)
