package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	etcd "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/shardlab/shardctl/common/manifest"
	"github.com/shardlab/shardctl/common/topology"
	"github.com/shardlab/shardctl/orchestrator"
	"github.com/shardlab/shardctl/pkg/app_config"
	"github.com/shardlab/shardctl/pkg/metrics"
	"github.com/shardlab/shardctl/pkg/remoteexec"
	"github.com/shardlab/shardctl/utils/netutils"
	"github.com/shardlab/shardctl/utils/secretsmanager"
)

// runtime is everything one shardctl invocation shares between reading its
// configuration and driving the cluster.
type runtime struct {
	logger  *zap.Logger
	config  *app_config.Config
	store   manifest.Store
	closers []func(ctx context.Context) error
}

func newRuntime(ctx context.Context) (*runtime, error) {
	logLevel, logger := app_config.NewLogger()
	logger = logger.With(zap.String("runId", uuid.NewString()))

	logger.Info("starting shardctl", zap.String("version", buildVersion))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load specified config file: %w", err)
		}
	}

	config := app_config.ReadConfig(viper.GetViper())
	app_config.ApplyLogLevel(logger, logLevel, config.LogLevel)
	logger.Info("parsed shardctl configuration", config.LogFields()...)

	rt := &runtime{
		logger: logger,
		config: config,
	}

	tracerProvider, meterProvider, err := initTelemetry(ctx,
		logger,
		config.OtlpEndpoint,
		!config.DisableOtlpTraces,
		!config.DisableOtlpMetrics,
		config.TraceEverything)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize opentelemetry: %w", err)
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		rt.closers = append(rt.closers, tracerProvider.Shutdown)
	}
	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
		rt.closers = append(rt.closers, meterProvider.Shutdown)
	}

	err = rt.initManifestStore()
	if err != nil {
		rt.close()
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) initManifestStore() error {
	switch rt.config.ManifestStore {
	case app_config.ManifestStoreNone, "":
		return nil

	case app_config.ManifestStoreFile:
		baseDir := rt.config.BaseDir
		if baseDir == "" {
			baseDir = "/tmp/shardctl"
		}
		rt.store = manifest.NewFileStore(filepath.Join(baseDir, manifest.DefaultFileName))
		return nil

	case app_config.ManifestStoreEtcd:
		etcdClient, err := etcd.New(etcd.Config{
			Endpoints:   rt.config.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
			Logger:      rt.logger.Named("etcd"),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to etcd: %w", err)
		}
		rt.closers = append(rt.closers, func(ctx context.Context) error {
			return etcdClient.Close()
		})

		rt.store = manifest.NewEtcdStore(manifest.EtcdStoreOptions{
			EtcdClient: etcdClient,
			KeyPrefix:  "/shardctl/" + rt.config.ClusterName,
		})
		return nil
	}

	return fmt.Errorf("unknown manifest store %q", rt.config.ManifestStore)
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(rt.closers) - 1; i >= 0; i-- {
		err := rt.closers[i](ctx)
		if err != nil {
			rt.logger.Debug("failed to close resource", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

func (rt *runtime) buildTopology() (*topology.Topology, error) {
	return topology.Build(rt.config.TopologyOptions())
}

// loadTopology prefers the topology recorded by a previous initialize over
// the one the current flags describe.
func (rt *runtime) loadTopology(ctx context.Context) (*topology.Topology, error) {
	if rt.store != nil {
		topo, err := rt.store.Load(ctx)
		if err == nil {
			rt.logger.Info("using recorded topology", zap.String("cluster", topo.Name))
			return topo, nil
		}
		if !errors.Is(err, manifest.ErrNotFound) {
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
	}

	return rt.buildTopology()
}

func (rt *runtime) saveTopology(ctx context.Context, topo *topology.Topology) error {
	if rt.store == nil {
		return nil
	}

	err := rt.store.Save(ctx, topo)
	if err != nil {
		return fmt.Errorf("failed to record manifest: %w", err)
	}
	return nil
}

func (rt *runtime) forgetTopology(ctx context.Context) error {
	if rt.store == nil {
		return nil
	}

	return rt.store.Delete(ctx)
}

func (rt *runtime) sshKeys(ctx context.Context) ([][]byte, error) {
	config := rt.config
	var keys [][]byte

	if config.SSHKeyPath != "" {
		key, err := os.ReadFile(config.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		keys = append(keys, key)
	}

	if config.SSHKeyAwsId != "" {
		if config.SSHKeyAwsRegion == "" {
			return nil, errors.New("must specify region and id when fetching secrets from aws")
		}

		rt.logger.Info("fetching ssh key from aws secrets manager")
		key, err := secretsmanager.FetchAWSSecret(ctx, config.SSHKeyAwsId, config.SSHKeyAwsRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ssh key from aws: %w", err)
		}
		keys = append(keys, key)
	}

	if config.SSHKeyAzureId != "" {
		if config.SSHKeyAzureVaultName == "" {
			return nil, errors.New("must specify key vault name and id when fetching secrets from azure")
		}

		rt.logger.Info("fetching ssh key from azure key vault")
		key, err := secretsmanager.FetchAzureSecret(ctx, config.SSHKeyAzureId, config.SSHKeyAzureVaultName)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ssh key from azure: %w", err)
		}
		keys = append(keys, key)
	}

	if config.SSHKeyGcpId != "" {
		if config.SSHKeyGcpProjectId == "" {
			return nil, errors.New("must specify project and secret ids when fetching secrets from gcp")
		}

		rt.logger.Info("fetching ssh key from gcp secrets manager")
		key, err := secretsmanager.FetchGcpSecret(ctx, config.SSHKeyGcpId, config.SSHKeyGcpProjectId)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch ssh key from gcp: %w", err)
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// newExecutor only sets up ssh when the topology has a node on another
// machine.
func (rt *runtime) newExecutor(ctx context.Context, topo *topology.Topology) (remoteexec.Executor, error) {
	opts := remoteexec.HostExecutorOptions{
		Logger:  rt.logger.Named("exec"),
		Metrics: metrics.GetShardctlMetrics(),
	}

	remote := slices.ContainsFunc(topo.Nodes(), func(node topology.NodeSpec) bool {
		return !netutils.IsLocalHost(node.Host)
	})
	if remote {
		keys, err := rt.sshKeys(ctx)
		if err != nil {
			return nil, err
		}

		sshExec, err := remoteexec.NewSSHExecutor(remoteexec.SSHExecutorOptions{
			Logger:                rt.logger.Named("ssh"),
			Port:                  rt.config.SSHPort,
			PrivateKeys:           keys,
			UseAgent:              !rt.config.SSHNoAgent,
			KnownHostsPath:        rt.config.SSHKnownHosts,
			InsecureIgnoreHostKey: rt.config.SSHInsecureHostKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set up ssh: %w", err)
		}
		rt.closers = append(rt.closers, func(ctx context.Context) error {
			return sshExec.Close()
		})

		opts.Remote = sshExec
	}

	return remoteexec.NewHostExecutor(opts), nil
}

func (rt *runtime) newCluster(ctx context.Context, topo *topology.Topology) (*orchestrator.Cluster, error) {
	executor, err := rt.newExecutor(ctx, topo)
	if err != nil {
		return nil, err
	}

	return orchestrator.NewCluster(topo, orchestrator.Options{
		Logger:              rt.logger,
		Metrics:             metrics.GetShardctlMetrics(),
		Executor:            executor,
		User:                rt.config.User,
		Binaries:            rt.config.Binaries(),
		AwaitPrimary:        rt.config.AwaitPrimary,
		AwaitPrimaryTimeout: rt.config.AwaitPrimaryTimeout,
	}), nil
}
