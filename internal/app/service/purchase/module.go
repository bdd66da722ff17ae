package purchase

import "go.uber.org/fx"

// Module exposes the purchase collaborator via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
