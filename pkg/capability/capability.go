// Package capability assembles the orchestrator's concrete runtime
// dependencies into one explicit carrier, constructed once in
// cmd/orchestrator/main.go and threaded through every component's
// constructor. No component outside this package holds a package-level
// singleton for store, coordination, or the container engine — the sole
// established exception, by house convention, is log.Logger itself, which
// remains a configured-once package global.
package capability

import (
	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/coord"
	"github.com/cuemby/ciorch/pkg/runtime"
	"github.com/cuemby/ciorch/pkg/secrets"
	"github.com/cuemby/ciorch/pkg/store"
)

// Set holds every concrete dependency a component may need.
type Set struct {
	Config  *config.Config
	Store   store.Store
	Coord   coord.Store
	Engine  runtime.Engine
	Secrets secrets.Store
}

// New assembles a Set from already-constructed dependencies. Constructed
// once at process start; never rebuilt mid-process.
func New(cfg *config.Config, st store.Store, cd coord.Store, eng runtime.Engine, sec secrets.Store) *Set {
	return &Set{
		Config:  cfg,
		Store:   st,
		Coord:   cd,
		Engine:  eng,
		Secrets: sec,
	}
}
