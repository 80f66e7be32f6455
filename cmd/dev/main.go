package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shardlab/shardctl/common/topology"
	"github.com/shardlab/shardctl/orchestrator"
	"github.com/shardlab/shardctl/pkg/metrics"
	"github.com/shardlab/shardctl/pkg/webapi"
	"github.com/shardlab/shardctl/utils/buildversion"
	"github.com/shardlab/shardctl/utils/latestonlychannel"
)

var replicaFactor = flag.Int("replica-factor", 1, "members per replica set")
var scaleFactor = flag.Int("scale-factor", 1, "number of data shards")
var routersFactor = flag.Int("routers-factor", 1, "number of routers")
var baseDir = flag.String("base-dir", filepath.Join(os.TempDir(), "shardctl-dev"), "directory holding the node directories")
var binDir = flag.String("bin-dir", "", "directory containing mongod, mongos and mongo (default: PATH)")
var webPort = flag.Int("web-port", 9091, "the web metrics/health port")
var configFile = flag.String("config", "", "config file to read log-level from")
var watchConfig = flag.Bool("watch-config", false, "reload log-level when the config file changes")

func binary(name string) string {
	if *binDir == "" {
		return name
	}
	return filepath.Join(*binDir, name)
}

// watchLogLevel keeps level in sync with the log-level key of the config
// file.
func watchLogLevel(logger *zap.Logger, level zap.AtomicLevel) {
	v := viper.New()
	v.SetConfigFile(*configFile)

	apply := func() {
		err := v.ReadInConfig()
		if err != nil {
			logger.Warn("failed to parse configuration file", zap.Error(err))
			return
		}

		levelStr := v.GetString("log-level")
		if levelStr == "" {
			return
		}

		parsedLevel, err := zapcore.ParseLevel(levelStr)
		if err != nil {
			logger.Warn("invalid log level specified", zap.String("logLevel", levelStr))
			return
		}

		level.SetLevel(parsedLevel)
		logger.Info("updated log level", zap.String("newLevel", parsedLevel.String()))
	}

	apply()

	if *watchConfig {
		changeCh := make(chan fsnotify.Event)
		v.OnConfigChange(func(in fsnotify.Event) {
			changeCh <- in
		})

		go func() {
			for in := range latestonlychannel.Wrap(changeCh) {
				logger.Info("configuration file change detected", zap.String("op", in.Op.String()))
				apply()
			}
		}()

		go v.WatchConfig()
	}
}

// teardown stops whatever is running and removes every node directory,
// ignoring nodes that never started.
func teardown(logger *zap.Logger, c *orchestrator.Cluster) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, node := range c.Nodes() {
		err := node.Stop(ctx)
		if err != nil {
			logger.Debug("node was not stopped", zap.String("node", node.Name()), zap.Error(err))
		}
	}

	err := c.Clean(ctx)
	if err != nil {
		logger.Error("failed to clean the cluster", zap.Error(err))
	}
}

func main() {
	flag.Parse()

	logConfig := zap.NewDevelopmentConfig()
	logger, err := logConfig.Build()
	if err != nil {
		log.Printf("failed to initialize logging: %s", err)
		os.Exit(1)
	}

	buildVersion := buildversion.GetVersion("github.com/shardlab/shardctl")
	logger.Info("starting shardctl dev cluster", zap.String("version", buildVersion))

	promExp, err := prometheus.New()
	if err != nil {
		logger.Error("failed to create prometheus exporter", zap.Error(err))
		os.Exit(1)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp)))

	if *configFile != "" {
		watchLogLevel(logger, logConfig.Level)
	}

	topo, err := topology.Build(topology.Options{
		Name:          "dev",
		ReplicaFactor: *replicaFactor,
		ScaleFactor:   *scaleFactor,
		RoutersFactor: *routersFactor,
		Hosts:         []string{"127.0.0.1"},
		BaseDir:       *baseDir,
	})
	if err != nil {
		logger.Error("failed to build the topology", zap.Error(err))
		os.Exit(1)
	}

	c := orchestrator.NewCluster(topo, orchestrator.Options{
		Logger:  logger,
		Metrics: metrics.GetShardctlMetrics(),
		Binaries: orchestrator.Binaries{
			Server: binary("mongod"),
			Router: binary("mongos"),
			Admin:  binary("mongo"),
		},
		AwaitPrimary: true,
	})

	webServer := webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger.Named("webapi"),
		LogLevel:      &logConfig.Level,
		ListenAddress: fmt.Sprintf("127.0.0.1:%d", *webPort),
	})
	webServer.SetCluster(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = c.Deploy(ctx)
	if err != nil {
		logger.Error("failed to deploy the dev cluster", zap.Error(err))
		teardown(logger, c)
		os.Exit(1)
	}

	webServer.MarkHealthy(true)
	logger.Info("dev cluster is running, interrupt to tear it down",
		zap.String("configDb", c.ConnectionString()))

	<-ctx.Done()

	logger.Info("received signal, tearing down the dev cluster")
	webServer.MarkHealthy(false)
	teardown(logger, c)
}
