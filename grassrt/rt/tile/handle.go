package tile

import "sync"

// ConfigHandle is the shared, versioned owner of a tile's configuration.
// Editors update it; the tile notices through Version and rebuilds.
type ConfigHandle struct {
	mu      sync.RWMutex
	cfg     Config
	version uint64
}

func NewConfigHandle(cfg Config) *ConfigHandle {
	return &ConfigHandle{cfg: cfg, version: 1}
}

func (h *ConfigHandle) Snapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *ConfigHandle) Version() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Update applies fn to the configuration and returns the new version.
func (h *ConfigHandle) Update(fn func(*Config)) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.cfg)
	h.version++
	return h.version
}

func (h *ConfigHandle) Set(cfg Config) uint64 {
	return h.Update(func(c *Config) { *c = cfg })
}
