// Package modules bundles the library's fx modules for host applications.
package modules

import (
	"go.uber.org/fx"

	coreconfig "github.com/Sokol111/ecommerce-outbox/pkg/core/config"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/health"
	"github.com/Sokol111/ecommerce-outbox/pkg/core/logger"
)

// Core wires logging, configuration and readiness. Every composition below
// expects it.
func Core() fx.Option {
	return fx.Options(
		logger.NewZapLoggingModule(),
		coreconfig.NewAppConfigModule(),
		coreconfig.NewViperModule(),
		health.NewReadinessModule(),
	)
}
