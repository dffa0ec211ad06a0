package storage

import (
	"fmt"

	"github.com/lgulliver/cliniprompt/pkg/config"
)

// StorageFactory creates workspace stores based on configuration
type StorageFactory struct {
	config *config.StorageConfig
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(config *config.StorageConfig) *StorageFactory {
	return &StorageFactory{config: config}
}

// CreateWorkspaceStore creates a store for the configured type
func (sf *StorageFactory) CreateWorkspaceStore() (WorkspaceStore, error) {
	switch sf.config.Type {
	case "local", "":
		return NewLocalWorkspace(sf.config.Root)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sf.config.Type)
	}
}
