//go:build property

package config

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestConfigValidationProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("ports in range with positive timings validate", prop.ForAll(
		func(port int, windowMs int, pollMs int) bool {
			cfg := Default()
			cfg.Server.Port = port
			cfg.Debounce.Window = time.Duration(windowMs) * time.Millisecond
			cfg.Watch.PollInterval = time.Duration(pollMs) * time.Millisecond
			return validateConfig(cfg) == nil
		},
		gen.IntRange(0, 65535),
		gen.IntRange(1, 10000),
		gen.IntRange(1, 10000),
	))

	properties.Property("ports out of range never validate", prop.ForAll(
		func(port int) bool {
			cfg := Default()
			cfg.Server.Port = port
			return validateConfig(cfg) != nil
		},
		gen.OneGenOf(gen.IntRange(-100000, -1), gen.IntRange(65536, 200000)),
	))

	properties.Property("non-positive debounce windows never validate", prop.ForAll(
		func(windowMs int) bool {
			cfg := Default()
			cfg.Debounce.Window = time.Duration(windowMs) * time.Millisecond
			return validateConfig(cfg) != nil
		},
		gen.IntRange(-10000, 0),
	))

	properties.TestingRun(t)
}
