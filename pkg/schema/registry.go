package schema

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// EngineInfo describes a registered capability set.
type EngineInfo struct {
	Engine      Engine `json:"engine"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// EngineRegistration contains info + factories for one engine.
// CapabilityFactory binds the engine's capability set to a connection.
// OpenFactory is optional and opens a new connection from a generic config
// map (see each engine package's FromMap).
type EngineRegistration struct {
	Info              EngineInfo
	CapabilityFactory func(conn Conn, logger *zap.Logger) Capability
	OpenFactory       func(ctx context.Context, config map[string]any, logger *zap.Logger) (Conn, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Engine]EngineRegistration)
)

// Register is called by each engine package's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg EngineRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Engine] = reg
}

// RegisteredEngines returns info for all registered engines, sorted by engine.
func RegisteredEngines() []EngineInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EngineInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Engine < result[j].Engine })
	return result
}

// GetRegistration returns the registration for an engine.
func GetRegistration(engine Engine) (EngineRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	reg, ok := registry[engine]
	return reg, ok
}

// IsRegistered checks if a capability set is compiled in for engine.
func IsRegistered(engine Engine) bool {
	_, ok := GetRegistration(engine)
	return ok
}
