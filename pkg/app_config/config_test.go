package app_config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestReadConfigDefaults(t *testing.T) {
	v := viper.New()
	require.NoError(t, BindViper(v, NewFlagSet()))

	cfg := ReadConfig(v)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 3, cfg.ReplicaFactor)
	require.Equal(t, 1, cfg.ScaleFactor)
	require.Equal(t, 1, cfg.RoutersFactor)
	require.Equal(t, 27100, cfg.ConfigBasePort)
	require.Equal(t, "mongod", cfg.ServerBinary)
	require.Equal(t, 30*time.Second, cfg.AwaitPrimaryTimeout)
	require.Equal(t, ManifestStoreFile, cfg.ManifestStore)
	require.Empty(t, cfg.Hosts)
}

func TestReadConfigFlagsAndEnv(t *testing.T) {
	t.Setenv("SHARDCTL_SCALE_FACTOR", "4")
	t.Setenv("SHARDCTL_ADMIN_BINARY", "/opt/db/bin/mongo")

	flags := NewFlagSet()
	require.NoError(t, flags.Parse([]string{
		"--hosts", "db1,db2,db3",
		"--replica-factor", "5",
		"--user", "ops",
		"--await-primary",
	}))

	v := viper.New()
	require.NoError(t, BindViper(v, flags))

	cfg := ReadConfig(v)
	require.Equal(t, []string{"db1", "db2", "db3"}, cfg.Hosts)
	require.Equal(t, 5, cfg.ReplicaFactor)
	require.Equal(t, 4, cfg.ScaleFactor)
	require.True(t, cfg.AwaitPrimary)

	opts := cfg.TopologyOptions()
	require.Equal(t, "ops", opts.User)
	require.Equal(t, 4, opts.ScaleFactor)
	require.Equal(t, []string{"db1", "db2", "db3"}, opts.Hosts)

	bins := cfg.Binaries()
	require.Equal(t, "/opt/db/bin/mongo", bins.Admin)
	require.Equal(t, "mongos", bins.Router)
}

func TestApplyLogLevel(t *testing.T) {
	level := zap.NewAtomicLevel()

	ApplyLogLevel(zap.NewNop(), level, "debug")
	require.Equal(t, zapcore.DebugLevel, level.Level())

	ApplyLogLevel(zap.NewNop(), level, "loud")
	require.Equal(t, zapcore.InfoLevel, level.Level())
}
