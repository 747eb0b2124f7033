package grpcstore

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"auria.dev/core/storage"
	"auria.dev/core/storage/storeconfig"
)

func init() {
	storeconfig.MustRegister(storeconfig.Backend{
		Name:        "grpc",
		Description: "Remote BlobStore over gRPC (options: target, timeout, max_msg_bytes)",
		Usage:       storeconfig.UsageCLI | storeconfig.UsageDaemon,
		Open:        openFromOptions,
	})
}

func openFromOptions(opts map[string]string) (storage.Store, func() error, error) {
	target := opts["target"]
	if target == "" {
		return nil, nil, errors.New("grpcstore: option \"target\" is required")
	}
	var dopts DialOptions
	if v := opts["timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, nil, fmt.Errorf("grpcstore: invalid timeout %q: %w", v, err)
		}
		dopts.Timeout = d
	}
	if v := opts["max_msg_bytes"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("grpcstore: invalid max_msg_bytes %q", v)
		}
		dopts.MaxMsgBytes = n
	}
	c, err := Dial(target, dopts)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}
