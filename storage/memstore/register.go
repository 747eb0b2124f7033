package memstore

import (
	"auria.dev/core/storage"
	"auria.dev/core/storage/storeconfig"
)

func init() {
	storeconfig.MustRegister(storeconfig.Backend{
		Name:        "memory",
		Description: "In-process blob store (volatile; lost on exit)",
		Usage:       storeconfig.UsageCLI | storeconfig.UsageDaemon,
		Open: func(map[string]string) (storage.Store, func() error, error) {
			return New(), nil, nil
		},
	})
}
