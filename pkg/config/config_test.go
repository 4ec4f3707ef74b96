package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camcore/rtspd/pkg/config"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, `{
		"listen": {"address": "0.0.0.0", "port": 554},
		"auth": {"policy": "none"},
		"streams": {
			"front-door": {"frame_source": "test", "video_payload_type": 96}
		}
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 554, cfg.Listen.Port)
	require.Equal(t, 60, int(cfg.Listen.SessionTimeout().Seconds()))
	require.Equal(t, 1400, cfg.Listen.RTPMTUOrDefault())
	require.Equal(t, 64, cfg.Listen.MaxQueueDepthOrDefault())
}

func TestLoadDefaultsMissingPortTo554(t *testing.T) {
	path := writeTempConfig(t, `{"listen": {}, "streams": {"a": {"frame_source": "x"}}}`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 554, cfg.Listen.Port)
}

func TestLoadRejectsNegativePort(t *testing.T) {
	path := writeTempConfig(t, `{"listen": {"port": -1}, "streams": {"a": {"frame_source": "x"}}}`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBasicAuthWithoutUsers(t *testing.T) {
	path := writeTempConfig(t, `{
		"listen": {"port": 554},
		"auth": {"policy": "basic"},
		"streams": {"a": {"frame_source": "x"}}
	}`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNoStreams(t *testing.T) {
	path := writeTempConfig(t, `{"listen": {"port": 554}, "streams": {}}`)
	_, err := config.Load(path)
	require.Error(t, err)
}
