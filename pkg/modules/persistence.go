package modules

import (
	"go.uber.org/fx"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
)

// Mongo wires the database layer shared by the outbox and inbox stores.
// Include it once, a service that both produces and consumes still gets a
// single client.
func Mongo() fx.Option {
	return mongo.NewMongoModule()
}
