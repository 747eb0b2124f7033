package localfs

import (
	"errors"

	"auria.dev/core/storage"
	"auria.dev/core/storage/storeconfig"
)

func init() {
	storeconfig.MustRegister(storeconfig.Backend{
		Name:        "localfs",
		Description: "Local filesystem blob store (offline; directory fan-out by CID)",
		Usage:       storeconfig.UsageCLI | storeconfig.UsageDaemon,
		Open: func(opts map[string]string) (storage.Store, func() error, error) {
			dir := opts["dir"]
			if dir == "" {
				return nil, nil, errors.New("localfs: option \"dir\" is required")
			}
			s, err := New(dir)
			if err != nil {
				return nil, nil, err
			}
			return s, nil, nil
		},
	})
}
