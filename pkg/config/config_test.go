package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	conf := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Equal(t, 5, conf.ParallelTests)
	require.Equal(t, 15, conf.ProxyTimeoutS)
	require.Equal(t, 300, conf.BatchDeadlineS)
	require.Equal(t, []string{"Default"}, conf.DefaultTags)
	require.Empty(t, conf.DSN)
}

func TestLoadLayersFilesThenEnv(t *testing.T) {
	first := writeFile(t, t.TempDir(), "dsn: postgres://first\nparallel_tests: 8\necho_urls:\n  - http://a\n  - http://b\n")
	second := writeFile(t, t.TempDir(), "dsn: postgres://second\nzap_log_level: debug\n")

	t.Setenv("PROXYHUB_LISTEN_ADDR", "0.0.0.0:9000")
	t.Setenv("PROXYHUB_DEFAULT_TAGS", "imported,fresh")

	conf := Load(first, second)
	require.Equal(t, "postgres://second", conf.DSN)
	require.Equal(t, 8, conf.ParallelTests)
	require.Equal(t, "debug", conf.ZapLogLevel)
	require.Equal(t, []string{"http://a", "http://b"}, conf.EchoURLs)
	require.Equal(t, "0.0.0.0:9000", conf.ListenAddr)
	require.Equal(t, []string{"imported", "fresh"}, conf.DefaultTags)
}

func TestLoadClamps(t *testing.T) {
	path := writeFile(t, t.TempDir(), "parallel_tests: 5000\nproxy_timeout_s: 30\nbatch_deadline_s: 10\n")
	conf := Load(path)
	require.Equal(t, 1000, conf.ParallelTests)
	require.Equal(t, 30, conf.BatchDeadlineS)
}
