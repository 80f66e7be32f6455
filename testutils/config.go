package testutils

import (
	"os"
	"path/filepath"
	"testing"
)

type Config struct {
	// BinDir holds the server, router and admin binaries.  Integration
	// tests against real processes are skipped when it is empty.
	BinDir  string
	BaseDir string
	Host    string
	// EtcdEndpoint enables the etcd manifest store tests.
	EtcdEndpoint string
}

var globalTestConfig *Config

func GetTestConfig(t *testing.T) *Config {
	if globalTestConfig == nil {
		testConfig := &Config{
			BaseDir: filepath.Join(os.TempDir(), "shardctl-test"),
			Host:    "127.0.0.1",
		}

		envBinDir := os.Getenv("SHARDCTL_TEST_BINDIR")
		if envBinDir != "" {
			testConfig.BinDir = envBinDir
		}

		envBaseDir := os.Getenv("SHARDCTL_TEST_BASEDIR")
		if envBaseDir != "" {
			testConfig.BaseDir = envBaseDir
		}

		envHost := os.Getenv("SHARDCTL_TEST_HOST")
		if envHost != "" {
			testConfig.Host = envHost
		}

		envEtcd := os.Getenv("SHARDCTL_TEST_ETCD")
		if envEtcd != "" {
			testConfig.EtcdEndpoint = envEtcd
		}

		t.Logf("initialized test configuration")
		t.Logf("  bindir: %s", testConfig.BinDir)
		t.Logf("  basedir: %s", testConfig.BaseDir)
		t.Logf("  host: %s", testConfig.Host)
		t.Logf("  etcd: %s", testConfig.EtcdEndpoint)

		globalTestConfig = testConfig
	}

	return globalTestConfig
}

func SkipIfNoEtcd(t *testing.T) string {
	cfg := GetTestConfig(t)
	if cfg.EtcdEndpoint == "" {
		t.Skip("skipping due to no etcd endpoint")
	}

	return cfg.EtcdEndpoint
}
