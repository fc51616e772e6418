package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:9000"
scheduler: least_queue
fore:
  queue_depth: 8
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Listen)
	require.Equal(t, "least_queue", cfg.Scheduler)
	require.EqualValues(t, 8, cfg.Fore.QueueDepth)
	// Untouched fields keep their defaults.
	require.Equal(t, Default().Back, cfg.Back)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \"0.0.0.0:9000\"\n"), 0o644))
	t.Setenv("DSP_LISTEN", "127.0.0.1:1")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:1", cfg.Listen)
}

func TestValidateRejectsUnknownEnum(t *testing.T) {
	cfg := Default()
	cfg.Codec = "protobuf"
	require.Error(t, Validate(cfg))
}

func TestDumpRoundTrips(t *testing.T) {
	out, err := Dump(Default())
	require.NoError(t, err)
	require.Contains(t, string(out), "listen:")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	require.Equal(t, Default(), back)
}

func TestWireTranslationRejectsUnknownAlgorithm(t *testing.T) {
	cfg := Default()
	cfg.Frame.HeaderDigest = "sha256"
	_, err := cfg.FrameOptions()
	require.Error(t, err)
}

func TestForeAndBackChannelConfigDiffer(t *testing.T) {
	cfg := Default()
	cfg.Fore.QueueDepth = 10
	cfg.Back.QueueDepth = 20

	fore, err := cfg.ForeChannelConfig(4)
	require.NoError(t, err)
	back, err := cfg.BackChannelConfig(2)
	require.NoError(t, err)

	require.EqualValues(t, 10, fore.QueueDepth)
	require.EqualValues(t, 20, back.QueueDepth)
	require.EqualValues(t, 4, fore.Slots)
	require.EqualValues(t, 2, back.Slots)
}
