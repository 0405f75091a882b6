package kvstore

import (
	"fmt"

	"qp-go/internal/config"
	"qp-go/internal/qp"
)

// NewStoreFromConfig creates a FastStore implementation based on the
// configured backend type.
func NewStoreFromConfig(cfg config.KVStoreConfig, clock qp.Clock) (qp.FastStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(clock), nil
	case "redis":
		return nil, fmt.Errorf("redis kvstore not yet implemented")
	default:
		return nil, fmt.Errorf("unknown kvstore type: %s", cfg.Type)
	}
}
