// Package app_config holds the shardctl configuration surface: the flag
// set, how it is read back out of viper, and the process logger.
package app_config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shardlab/shardctl/common/topology"
	"github.com/shardlab/shardctl/orchestrator"
)

const EnvPrefix = "shardctl"

const (
	ManifestStoreFile = "file"
	ManifestStoreEtcd = "etcd"
	ManifestStoreNone = "none"
)

type Config struct {
	LogLevel string

	ClusterName   string
	ReplicaFactor int
	ScaleFactor   int
	RoutersFactor int

	Hosts   []string
	User    string
	BaseDir string

	ConfigBasePort int
	ShardBasePort  int
	RouterBasePort int

	ServerBinary string
	RouterBinary string
	AdminBinary  string

	AwaitPrimary        bool
	AwaitPrimaryTimeout time.Duration

	SSHPort              int
	SSHKeyPath           string
	SSHKnownHosts        string
	SSHInsecureHostKey   bool
	SSHNoAgent           bool
	SSHKeyAwsId          string
	SSHKeyAwsRegion      string
	SSHKeyAzureId        string
	SSHKeyAzureVaultName string
	SSHKeyGcpId          string
	SSHKeyGcpProjectId   string

	ManifestStore string
	EtcdEndpoints []string

	OtlpEndpoint       string
	DisableOtlpTraces  bool
	DisableOtlpMetrics bool
	TraceEverything    bool
}

func NewFlagSet() *pflag.FlagSet {
	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("cluster-name", "shardctl", "the name of the cluster")
	configFlags.Int("replica-factor", 3, "members per replica set")
	configFlags.Int("scale-factor", 1, "number of data shards")
	configFlags.Int("routers-factor", 1, "number of routers")
	configFlags.StringSlice("hosts", nil, "hosts to place nodes on, round-robin per role (default: this host)")
	configFlags.String("user", "", "the remote user for ssh hosts")
	configFlags.String("base-dir", "/tmp/shardctl", "directory holding every node's data, logs and pid files")
	configFlags.Int("config-base-port", 27100, "first port of the config replica set")
	configFlags.Int("shard-base-port", 27200, "first port of the data replica sets")
	configFlags.Int("router-base-port", 27300, "first port of the routers")
	configFlags.String("server-binary", orchestrator.DefaultBinaries.Server, "the replica set member binary")
	configFlags.String("router-binary", orchestrator.DefaultBinaries.Router, "the router binary")
	configFlags.String("admin-binary", orchestrator.DefaultBinaries.Admin, "the admin shell used to bootstrap replica sets")
	configFlags.Bool("await-primary", false, "wait for member 0 to become primary before adding members")
	configFlags.Duration("await-primary-timeout", 30*time.Second, "how long to wait for member 0 to become primary")
	configFlags.Int("ssh-port", 22, "the ssh port of remote hosts")
	configFlags.String("ssh-key", "", "path to an ssh private key")
	configFlags.String("ssh-known-hosts", "", "known_hosts file used to verify remote hosts (default: ~/.ssh/known_hosts)")
	configFlags.Bool("ssh-insecure-host-key", false, "skip remote host key verification")
	configFlags.Bool("ssh-no-agent", false, "do not use keys from the running ssh-agent")
	configFlags.String("ssh-key-aws-id", "", "id of secret in aws sm storing the ssh private key")
	configFlags.String("ssh-key-aws-region", "", "region of ssh-key-aws-id secret")
	configFlags.String("ssh-key-azure-id", "", "id of secret in azure kv storing the ssh private key")
	configFlags.String("ssh-key-azure-vault-name", "", "name of key vault storing ssh-key-azure-id")
	configFlags.String("ssh-key-gcp-id", "", "id of secret in gcp sm storing the ssh private key")
	configFlags.String("ssh-key-gcp-project-id", "", "id of project containing ssh-key-gcp-id")
	configFlags.String("manifest-store", ManifestStoreFile, "where the deployed topology is recorded: file, etcd or none")
	configFlags.StringSlice("etcd-endpoints", []string{"localhost:2379"}, "etcd endpoints for the etcd manifest store")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("trace-everything", false, "enables tracing of all commands")
	return configFlags
}

// BindViper makes every flag readable from v, overridable through
// SHARDCTL_* environment variables.
func BindViper(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	return v.BindPFlags(flags)
}

func ReadConfig(v *viper.Viper) *Config {
	return &Config{
		LogLevel:             v.GetString("log-level"),
		ClusterName:          v.GetString("cluster-name"),
		ReplicaFactor:        v.GetInt("replica-factor"),
		ScaleFactor:          v.GetInt("scale-factor"),
		RoutersFactor:        v.GetInt("routers-factor"),
		Hosts:                v.GetStringSlice("hosts"),
		User:                 v.GetString("user"),
		BaseDir:              v.GetString("base-dir"),
		ConfigBasePort:       v.GetInt("config-base-port"),
		ShardBasePort:        v.GetInt("shard-base-port"),
		RouterBasePort:       v.GetInt("router-base-port"),
		ServerBinary:         v.GetString("server-binary"),
		RouterBinary:         v.GetString("router-binary"),
		AdminBinary:          v.GetString("admin-binary"),
		AwaitPrimary:         v.GetBool("await-primary"),
		AwaitPrimaryTimeout:  v.GetDuration("await-primary-timeout"),
		SSHPort:              v.GetInt("ssh-port"),
		SSHKeyPath:           v.GetString("ssh-key"),
		SSHKnownHosts:        v.GetString("ssh-known-hosts"),
		SSHInsecureHostKey:   v.GetBool("ssh-insecure-host-key"),
		SSHNoAgent:           v.GetBool("ssh-no-agent"),
		SSHKeyAwsId:          v.GetString("ssh-key-aws-id"),
		SSHKeyAwsRegion:      v.GetString("ssh-key-aws-region"),
		SSHKeyAzureId:        v.GetString("ssh-key-azure-id"),
		SSHKeyAzureVaultName: v.GetString("ssh-key-azure-vault-name"),
		SSHKeyGcpId:          v.GetString("ssh-key-gcp-id"),
		SSHKeyGcpProjectId:   v.GetString("ssh-key-gcp-project-id"),
		ManifestStore:        v.GetString("manifest-store"),
		EtcdEndpoints:        v.GetStringSlice("etcd-endpoints"),
		OtlpEndpoint:         v.GetString("otlp-endpoint"),
		DisableOtlpTraces:    v.GetBool("disable-otlp-traces"),
		DisableOtlpMetrics:   v.GetBool("disable-otlp-metrics"),
		TraceEverything:      v.GetBool("trace-everything"),
	}
}

func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("logLevel", c.LogLevel),
		zap.String("clusterName", c.ClusterName),
		zap.Int("replicaFactor", c.ReplicaFactor),
		zap.Int("scaleFactor", c.ScaleFactor),
		zap.Int("routersFactor", c.RoutersFactor),
		zap.Strings("hosts", c.Hosts),
		zap.String("user", c.User),
		zap.String("baseDir", c.BaseDir),
		zap.Int("configBasePort", c.ConfigBasePort),
		zap.Int("shardBasePort", c.ShardBasePort),
		zap.Int("routerBasePort", c.RouterBasePort),
		zap.String("serverBinary", c.ServerBinary),
		zap.String("routerBinary", c.RouterBinary),
		zap.String("adminBinary", c.AdminBinary),
		zap.Bool("awaitPrimary", c.AwaitPrimary),
		zap.Duration("awaitPrimaryTimeout", c.AwaitPrimaryTimeout),
		zap.Int("sshPort", c.SSHPort),
		zap.String("sshKeyPath", c.SSHKeyPath),
		zap.String("sshKnownHosts", c.SSHKnownHosts),
		zap.Bool("sshInsecureHostKey", c.SSHInsecureHostKey),
		zap.Bool("sshNoAgent", c.SSHNoAgent),
		zap.String("sshKeyAwsId", c.SSHKeyAwsId),
		zap.String("sshKeyAzureId", c.SSHKeyAzureId),
		zap.String("sshKeyGcpId", c.SSHKeyGcpId),
		zap.String("manifestStore", c.ManifestStore),
		zap.Strings("etcdEndpoints", c.EtcdEndpoints),
		zap.String("otlpEndpoint", c.OtlpEndpoint),
	}
}

func (c *Config) TopologyOptions() topology.Options {
	return topology.Options{
		Name:           c.ClusterName,
		ReplicaFactor:  c.ReplicaFactor,
		ScaleFactor:    c.ScaleFactor,
		RoutersFactor:  c.RoutersFactor,
		Hosts:          c.Hosts,
		User:           c.User,
		BaseDir:        c.BaseDir,
		ConfigBasePort: c.ConfigBasePort,
		ShardBasePort:  c.ShardBasePort,
		RouterBasePort: c.RouterBasePort,
	}
}

func (c *Config) Binaries() orchestrator.Binaries {
	return orchestrator.Binaries{
		Server: c.ServerBinary,
		Router: c.RouterBinary,
		Admin:  c.AdminBinary,
	}
}

// NewLogger builds the JSON process logger.  Its level is adjusted later
// through the returned AtomicLevel.
func NewLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

// ApplyLogLevel sets level from its string form, falling back to info.
func ApplyLogLevel(logger *zap.Logger, level zap.AtomicLevel, levelStr string) {
	parsedLogLevel, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead", zap.String("logLevel", levelStr))
		parsedLogLevel = zapcore.InfoLevel
	}

	level.SetLevel(parsedLogLevel)
}
