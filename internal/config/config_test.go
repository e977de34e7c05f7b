package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./playground", cfg.Watch.Root)
	assert.Equal(t, []string{".html", ".css", ".json", ".yaml", ".yml"}, cfg.Watch.Extensions)
	assert.Equal(t, WatchModePoll, cfg.Watch.Mode)
	assert.Equal(t, time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, time.Second, cfg.Debounce.Window)
	assert.Equal(t, "weasyprint", cfg.Render.Command)
	assert.Equal(t, []string{"{input}", "{output}", "--base-url", "{root}"}, cfg.Render.Args)
	assert.Equal(t, 60*time.Second, cfg.Render.Timeout)
	assert.Equal(t, ".docpress", cfg.Render.OutputDir)
	assert.Equal(t, "localhost:5000", cfg.Address())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".docpress.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
watch:
  root: ./doc
  extensions: [".HTML", ".css"]
  mode: Native
debounce:
  window: 250ms
render:
  timeout: 2m
server:
  port: 8081
  allowed_origins: ["https://docs.internal"]
`), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "./doc", cfg.Watch.Root)
	assert.Equal(t, []string{".html", ".css"}, cfg.Watch.Extensions)
	assert.Equal(t, WatchModeNative, cfg.Watch.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce.Window)
	assert.Equal(t, 2*time.Minute, cfg.Render.Timeout)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, []string{"https://docs.internal"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "weasyprint", cfg.Render.Command)
}

func TestLoadWithEnvironment(t *testing.T) {
	t.Setenv("DOCPRESS_DEBOUNCE_WINDOW", "400ms")
	t.Setenv("DOCPRESS_SERVER_PORT", "7001")
	t.Setenv("DOCPRESS_WATCH_ROOT", "/srv/doc")

	v := viper.New()
	v.SetEnvPrefix("DOCPRESS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 400*time.Millisecond, cfg.Debounce.Window)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "/srv/doc", cfg.Watch.Root)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"unparseable port", "server.port", "invalid_port"},
		{"port out of range", "server.port", 70000},
		{"host injection", "server.host", "localhost;rm"},
		{"empty root", "watch.root", ""},
		{"extension without dot", "watch.extensions", []string{"html"}},
		{"unknown watch mode", "watch.mode", "inotify"},
		{"zero poll interval", "watch.poll_interval", "0s"},
		{"zero debounce window", "debounce.window", "0s"},
		{"renderer not allowed", "render.command", "bash"},
		{"argument injection", "render.args", []string{"{input}", "{output};id"}},
		{"absolute output dir", "render.output_dir", "/tmp/out"},
		{"escaping entry", "render.entry", "../index.html"},
		{"artifact with directory", "render.artifact", "out/doc.pdf"},
		{"negative timeout", "render.timeout", "-1s"},
		{"unknown log level", "log.level", "loud"},
		{"unknown log format", "log.format", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.value)

			_, err := LoadFrom(v)
			assert.Error(t, err)
		})
	}
}

func TestAllowedCommandsExtendsDefaults(t *testing.T) {
	v := viper.New()
	v.Set("render.command", "/usr/local/bin/paged")
	v.Set("render.allowed_commands", []string{"paged"})

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	allowed := cfg.AllowedCommands()
	assert.True(t, allowed["paged"])
	assert.True(t, allowed["weasyprint"])
}

func TestOutputPath(t *testing.T) {
	cfg := Default()
	cfg.Watch.Root = t.TempDir()

	out, err := cfg.OutputPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Watch.Root, ".docpress"), out)
}

func TestValidateConfigWithDetails(t *testing.T) {
	t.Run("missing root is an error", func(t *testing.T) {
		cfg := Default()
		cfg.Watch.Root = filepath.Join(t.TempDir(), "missing")

		result := ValidateConfigWithDetails(cfg)
		assert.False(t, result.Valid)
		require.NotEmpty(t, result.Errors)
		assert.Equal(t, "watch.root", result.Errors[0].Field)
		assert.Contains(t, result.String(), "docpress init")
	})

	t.Run("existing root with warnings", func(t *testing.T) {
		cfg := Default()
		cfg.Watch.Root = t.TempDir()
		cfg.Watch.Extensions = []string{".css"}
		cfg.Debounce.Window = 100 * time.Millisecond
		cfg.Server.Port = 80

		result := ValidateConfigWithDetails(cfg)
		assert.True(t, result.Valid)
		assert.True(t, result.HasWarnings())

		fields := make([]string, 0, len(result.Warnings))
		for _, w := range result.Warnings {
			fields = append(fields, w.Field)
		}
		assert.Contains(t, fields, "watch.extensions")
		assert.Contains(t, fields, "debounce.window")
		assert.Contains(t, fields, "render.entry")
		assert.Contains(t, fields, "server.port")
	})

	t.Run("bad hostname", func(t *testing.T) {
		cfg := Default()
		cfg.Watch.Root = t.TempDir()
		cfg.Server.Host = "-bad-"

		result := ValidateConfigWithDetails(cfg)
		assert.False(t, result.Valid)
	})
}
