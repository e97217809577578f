package storage

import (
	"github.com/cuemby/minepanel/pkg/types"
)

// Store defines the interface for instance record storage.
// It is implemented by the BoltDB-backed BoltStore.
type Store interface {
	// Instances
	PutInstance(instance *types.Instance) error
	GetInstance(id string) (*types.Instance, error)
	// GetInstanceByName returns the live instance holding a canonical name
	GetInstanceByName(canonical string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	DeleteInstance(id string) error

	// Utility
	Close() error
}
