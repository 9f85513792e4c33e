package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/chatverify/internal/common"
	"github.com/ternarybob/chatverify/internal/interfaces"
	"github.com/ternarybob/chatverify/internal/storage/badger"
)

// NewRunStorage opens the run history backend named by config
func NewRunStorage(logger arbor.ILogger, config *common.StorageConfig) (interfaces.RunStorage, error) {
	if config.Type != "badger" && config.Type != "" {
		return nil, fmt.Errorf("unsupported storage type: %s (only 'badger' is supported)", config.Type)
	}
	return badger.Open(logger, &config.Badger)
}
