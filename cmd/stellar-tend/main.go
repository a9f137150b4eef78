package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stellarkv/stellar-client/cluster"
	"github.com/stellarkv/stellar-client/contrib/etcdseeds"
	"github.com/stellarkv/stellar-client/pkg/metrics"
	"github.com/stellarkv/stellar-client/pkg/webapi"
	"github.com/stellarkv/stellar-client/utils/secretsmanager"
	"github.com/stellarkv/stellar-client/utils/selfsignedcert"
	etcd "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "unknown"
	}
	return info.Main.Version
}

var buildVersion string = getBuildVersion()

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "stellar-tend",
	Short: "Tends a stellar kv cluster and reports its topology",

	Run: func(cmd *cobra.Command, args []string) {
		startTender()
	},
}

var cfgFile string
var watchCfgFile bool

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("seeds", "localhost:3000", "comma separated seed hosts")
	configFlags.String("cluster-name", "", "reject nodes which report another cluster name")
	configFlags.String("user", "", "the cluster username")
	configFlags.String("pass", "", "the cluster password")
	configFlags.Duration("tend-interval", cluster.DefaultTendInterval, "time between tend cycles")
	configFlags.Duration("connection-timeout", cluster.DefaultConnectionTimeout, "node connect and info timeout")
	configFlags.Duration("idle-timeout", cluster.DefaultIdleTimeout, "idle time before a pooled connection is discarded")
	configFlags.Int("pool-size", cluster.DefaultConnectionPoolSize, "maximum connections per node")
	configFlags.Bool("rack-aware", false, "track the rack of every node")
	configFlags.Bool("tls", false, "connect to nodes over tls")
	configFlags.String("ca-cert", "", "path to the ca certificate trusted for node tls")
	configFlags.String("etcd-endpoints", "", "comma separated etcd endpoints to read extra seeds from")
	configFlags.String("etcd-prefix", "stellar/seeds", "etcd key prefix holding the seeds")
	configFlags.Bool("etcd-publish", false, "register the discovered nodes as seeds in etcd")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("web-port", 9091, "the web metrics/health port")
	configFlags.Bool("self-sign", false, "serve the web api over tls with a self-signed certificate")
	configFlags.String("web-cert", "", "path to web api tls cert")
	configFlags.String("web-key", "", "path to web api private tls key")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("trace-everything", false, "enables tracing of all components")
	configFlags.String("cpuprofile", "", "write cpu profile to a file")
	configFlags.String("creds-aws-id", "", "id of secret in aws sm storing cluster credentials")
	configFlags.String("creds-aws-region", "", "region of creds-aws-id secret")
	configFlags.String("creds-azure-id", "", "id of secret in azure kv storing cluster credentials")
	configFlags.String("creds-azure-vault-name", "", "name of key vault storing creds-azure-id")
	configFlags.String("creds-gcp-id", "", "id of secret in gcp sm storing cluster credentials")
	configFlags.String("creds-gcp-project-id", "", "id of project containing creds-gcp-id")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("stk")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func initTelemetry(
	ctx context.Context,
	logger *zap.Logger,
	otlpEndpoint string,
	enableTraces bool,
	enableMetrics bool,
	traceEverything bool,
) (
	*sdktrace.TracerProvider,
	*sdkmetric.MeterProvider,
	error,
) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("stellar-tend"),
			semconv.ServiceVersionKey.String(buildVersion),
		),
	)
	if err != nil {
		if res == nil {
			return nil, nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	meterOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	}
	if enableMetrics && otlpEndpoint != "" {
		metricExp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, nil, err
		}

		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)

	var tracerProvider *sdktrace.TracerProvider
	if enableTraces && otlpEndpoint != "" {
		traceClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(otlpEndpoint))
		traceExp, err := otlptrace.New(ctx, traceClient)
		if err != nil {
			return nil, nil, err
		}

		baseTracing := sdktrace.NeverSample()
		if traceEverything {
			baseTracing = sdktrace.AlwaysSample()
		}

		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(baseTracing)),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExp)),
		)
	}

	return tracerProvider, meterProvider, nil
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
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

type config struct {
	logLevelStr         string
	seeds               string
	clusterName         string
	user                string
	pass                string
	tendInterval        time.Duration
	connectionTimeout   time.Duration
	idleTimeout         time.Duration
	poolSize            int
	rackAware           bool
	useTLS              bool
	caCertPath          string
	etcdEndpoints       string
	etcdPrefix          string
	etcdPublish         bool
	bindAddress         string
	webPort             int
	selfSign            bool
	webCertPath         string
	webKeyPath          string
	otlpEndpoint        string
	disableOtlpTraces   bool
	disableOtlpMetrics  bool
	traceEverything     bool
	cpuprofile          string
	credsAwsId          string
	credsAwsRegion      string
	credsAzureId        string
	credsAzureVaultName string
	credsGcpId          string
	credsGcpProjectId   string
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:         viper.GetString("log-level"),
		seeds:               viper.GetString("seeds"),
		clusterName:         viper.GetString("cluster-name"),
		user:                viper.GetString("user"),
		pass:                viper.GetString("pass"),
		tendInterval:        viper.GetDuration("tend-interval"),
		connectionTimeout:   viper.GetDuration("connection-timeout"),
		idleTimeout:         viper.GetDuration("idle-timeout"),
		poolSize:            viper.GetInt("pool-size"),
		rackAware:           viper.GetBool("rack-aware"),
		useTLS:              viper.GetBool("tls"),
		caCertPath:          viper.GetString("ca-cert"),
		etcdEndpoints:       viper.GetString("etcd-endpoints"),
		etcdPrefix:          viper.GetString("etcd-prefix"),
		etcdPublish:         viper.GetBool("etcd-publish"),
		bindAddress:         viper.GetString("bind-address"),
		webPort:             viper.GetInt("web-port"),
		selfSign:            viper.GetBool("self-sign"),
		webCertPath:         viper.GetString("web-cert"),
		webKeyPath:          viper.GetString("web-key"),
		otlpEndpoint:        viper.GetString("otlp-endpoint"),
		disableOtlpTraces:   viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics:  viper.GetBool("disable-otlp-metrics"),
		traceEverything:     viper.GetBool("trace-everything"),
		cpuprofile:          viper.GetString("cpuprofile"),
		credsAwsId:          viper.GetString("creds-aws-id"),
		credsAwsRegion:      viper.GetString("creds-aws-region"),
		credsAzureId:        viper.GetString("creds-azure-id"),
		credsAzureVaultName: viper.GetString("creds-azure-vault-name"),
		credsGcpId:          viper.GetString("creds-gcp-id"),
		credsGcpProjectId:   viper.GetString("creds-gcp-project-id"),
	}

	logger.Info("parsed tender configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("seeds", config.seeds),
		zap.String("clusterName", config.clusterName),
		zap.String("user", config.user),
		zap.Duration("tendInterval", config.tendInterval),
		zap.Duration("connectionTimeout", config.connectionTimeout),
		zap.Duration("idleTimeout", config.idleTimeout),
		zap.Int("poolSize", config.poolSize),
		zap.Bool("rackAware", config.rackAware),
		zap.Bool("useTLS", config.useTLS),
		zap.String("caCertPath", config.caCertPath),
		zap.String("etcdEndpoints", config.etcdEndpoints),
		zap.String("etcdPrefix", config.etcdPrefix),
		zap.Bool("etcdPublish", config.etcdPublish),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort),
		zap.Bool("selfSign", config.selfSign),
		zap.String("webCertPath", config.webCertPath),
		zap.String("webKeyPath", config.webKeyPath),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpTraces", config.disableOtlpTraces),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("traceEverything", config.traceEverything),
		zap.String("cpuprofile", config.cpuprofile),
		zap.String("credsAwsId", config.credsAwsId),
		zap.String("credsAwsRegion", config.credsAwsRegion),
		zap.String("credsAzureId", config.credsAzureId),
		zap.String("credsAzureVaultName", config.credsAzureVaultName),
		zap.String("credsGcpId", config.credsGcpId),
		zap.String("credsGcpProjectId", config.credsGcpProjectId))

	return config
}

// secretSource picks the single cloud secret configured, if any.
func (c *config) secretSource() (*secretsmanager.Source, error) {
	var sources []secretsmanager.Source
	if c.credsAwsId != "" {
		sources = append(sources, secretsmanager.Source{
			Provider: secretsmanager.ProviderAWS, SecretID: c.credsAwsId, Location: c.credsAwsRegion})
	}
	if c.credsAzureId != "" {
		sources = append(sources, secretsmanager.Source{
			Provider: secretsmanager.ProviderAzure, SecretID: c.credsAzureId, Location: c.credsAzureVaultName})
	}
	if c.credsGcpId != "" {
		sources = append(sources, secretsmanager.Source{
			Provider: secretsmanager.ProviderGCP, SecretID: c.credsGcpId, Location: c.credsGcpProjectId})
	}

	switch len(sources) {
	case 0:
		return nil, nil
	case 1:
		if c.user != "" || c.pass != "" {
			return nil, fmt.Errorf("cannot use user or pass when fetching creds from a cloud provider")
		}
		return &sources[0], nil
	}
	return nil, fmt.Errorf("only one cloud credentials secret may be specified")
}

func loadNodeTLSConfig(config *config) (*tls.Config, error) {
	if !config.useTLS {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.caCertPath != "" {
		caPEM, err := os.ReadFile(config.caCertPath)
		if err != nil {
			return nil, err
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in %s", config.caCertPath)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

func loadWebTLSConfig(config *config) (*tls.Config, error) {
	if config.webCertPath != "" || config.webKeyPath != "" {
		if config.webCertPath == "" || config.webKeyPath == "" {
			return nil, fmt.Errorf("must specify both web-cert and web-key")
		}

		cert, err := tls.LoadX509KeyPair(config.webCertPath, config.webKeyPath)
		if err != nil {
			return nil, err
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	}

	if config.selfSign {
		cert, err := selfsignedcert.GenerateCertificate("localhost", "127.0.0.1")
		if err != nil {
			return nil, err
		}
		return cert.ServerConfig(), nil
	}

	return nil, nil
}

func watchTopology(ctx context.Context, logger *zap.Logger, c *cluster.Cluster) {
	for nodes := range c.WatchNodes(ctx) {
		names := make([]string, 0, len(nodes))
		for _, node := range nodes {
			names = append(names, node.Name())
		}

		logger.Info("cluster topology changed",
			zap.Int("numNodes", len(nodes)),
			zap.Strings("nodes", names))
	}
}

// credentialsChanged compares the credential settings as read from the
// configuration, never the secret values fetched with them.
func credentialsChanged(oldConfig, newConfig *config) bool {
	return newConfig.user != oldConfig.user ||
		newConfig.pass != oldConfig.pass ||
		newConfig.credsAwsId != oldConfig.credsAwsId ||
		newConfig.credsAwsRegion != oldConfig.credsAwsRegion ||
		newConfig.credsAzureId != oldConfig.credsAzureId ||
		newConfig.credsAzureVaultName != oldConfig.credsAzureVaultName ||
		newConfig.credsGcpId != oldConfig.credsGcpId ||
		newConfig.credsGcpProjectId != oldConfig.credsGcpProjectId
}

// watchSeeds hands every seed list published in etcd to the cluster, so
// seeds registered after startup are used when the cluster must re-seed.
func watchSeeds(ctx context.Context, logger *zap.Logger, registry *etcdseeds.Registry, c *cluster.Cluster) {
	seedsCh, err := registry.Watch(ctx)
	if err != nil {
		logger.Warn("failed to watch etcd seeds", zap.Error(err))
		return
	}

	for seeds := range seedsCh {
		if len(seeds) == 0 {
			continue
		}

		c.AddSeeds(seeds...)
		logger.Debug("added seeds from etcd", zap.Any("seeds", seeds))
	}
}

// publishSeeds keeps one etcd seed entry per active node, keyed by node name.
// The entries are left when the node disappears or ctx is done.
func publishSeeds(ctx context.Context, logger *zap.Logger, registry *etcdseeds.Registry, c *cluster.Cluster) {
	registrations := make(map[string]*etcdseeds.Registration)

	leave := func(name string, reg *etcdseeds.Registration) {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer leaveCancel()

		err := reg.Leave(leaveCtx)
		if err != nil {
			logger.Warn("failed to remove node seed from etcd",
				zap.String("node", name),
				zap.Error(err))
		}
		delete(registrations, name)
	}

	for nodes := range c.WatchNodes(ctx) {
		seen := make(map[string]struct{}, len(nodes))
		for _, node := range nodes {
			seen[node.Name()] = struct{}{}
			if _, ok := registrations[node.Name()]; ok {
				continue
			}

			reg, err := registry.Register(ctx, node.Host(), &etcdseeds.RegisterOptions{
				ID: node.Name(),
			})
			if err != nil {
				logger.Warn("failed to publish node seed to etcd",
					zap.String("node", node.Name()),
					zap.Error(err))
				continue
			}
			registrations[node.Name()] = reg
		}

		for name, reg := range registrations {
			if _, ok := seen[name]; !ok {
				leave(name, reg)
			}
		}
	}

	for name, reg := range registrations {
		leave(name, reg)
	}
}

func startTender() {
	// initialize the logger
	logLevel, logger := getLogger()

	// signal that we are starting
	logger.Info("starting stellar-tend", zap.String("version", buildVersion))

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)

	parsedLogLevel, err := zapcore.ParseLevel(config.logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)

	// setup profiling
	if config.cpuprofile != "" {
		f, err := os.Create(config.cpuprofile)
		if err != nil {
			logger.Error("failed to create cpu profile file", zap.Error(err))
			os.Exit(1)
		}

		err = pprof.StartCPUProfile(f)
		if err != nil {
			logger.Error("failed to start cpu profiling", zap.Error(err))
			os.Exit(1)
		}

		defer pprof.StopCPUProfile()
	}

	// setup telemetry
	tracerProvider, meterProvider, err :=
		initTelemetry(context.Background(),
			logger,
			config.otlpEndpoint,
			!config.disableOtlpTraces,
			!config.disableOtlpMetrics,
			config.traceEverything)
	if err != nil {
		logger.Error("failed to initialize opentelemetry", zap.Error(err))
		os.Exit(1)
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		defer func() {
			_ = tracerProvider.Shutdown(context.Background())
		}()
	}
	otel.SetMeterProvider(meterProvider)

	seeds, err := cluster.ParseHosts(config.seeds, cluster.DefaultPort)
	if err != nil {
		logger.Error("failed to parse seeds", zap.Error(err))
		os.Exit(1)
	}

	secretSource, err := config.secretSource()
	if err != nil {
		logger.Error("invalid credentials configuration", zap.Error(err))
		os.Exit(1)
	}
	creds := cluster.Credentials{
		User:     config.user,
		Password: config.pass,
	}
	if secretSource != nil {
		logger.Info("fetching cluster credentials", zap.Stringer("source", secretSource))

		fetchCtx, fetchCancel := context.WithTimeout(context.Background(), 30*time.Second)
		creds.User, creds.Password, err = secretsmanager.FetchCredentials(fetchCtx, *secretSource)
		fetchCancel()
		if err != nil {
			logger.Error("failed to fetch cluster credentials", zap.Error(err))
			os.Exit(1)
		}
	}

	nodeTLSConfig, err := loadNodeTLSConfig(config)
	if err != nil {
		logger.Error("failed to load node tls configuration", zap.Error(err))
		os.Exit(1)
	}

	webTLSConfig, err := loadWebTLSConfig(config)
	if err != nil {
		logger.Error("failed to load web tls configuration", zap.Error(err))
		os.Exit(1)
	}

	var seedRegistry *etcdseeds.Registry
	if config.etcdEndpoints != "" {
		etcdClient, err := etcd.New(etcd.Config{
			Endpoints:   strings.Split(config.etcdEndpoints, ","),
			DialTimeout: 5 * time.Second,
			Logger:      logger.Named("etcd"),
		})
		if err != nil {
			logger.Error("failed to connect to etcd", zap.Error(err))
			os.Exit(1)
		}
		defer etcdClient.Close()

		seedRegistry, err = etcdseeds.NewRegistry(etcdseeds.RegistryOptions{
			EtcdClient:  etcdClient,
			KeyPrefix:   config.etcdPrefix,
			DefaultPort: cluster.DefaultPort,
			Logger:      logger.Named("etcdseeds"),
		})
		if err != nil {
			logger.Error("failed to setup etcd seed registry", zap.Error(err))
			os.Exit(1)
		}
	}

	var seedProvider cluster.SeedProvider
	if seedRegistry != nil {
		seedProvider = seedRegistry
	}

	c, err := cluster.NewCluster(context.Background(), &cluster.Options{
		Seeds:              seeds,
		SeedProvider:       seedProvider,
		ClusterName:        config.clusterName,
		ConnectionTimeout:  config.connectionTimeout,
		IdleTimeout:        config.idleTimeout,
		ConnectionPoolSize: config.poolSize,
		TendInterval:       config.tendInterval,
		RackAware:          config.rackAware,
		TLSConfig:          nodeTLSConfig,
		Credentials:        creds,
		Logger:             logger,
		Metrics:            metrics.NewClusterMetrics(meterProvider),
	})
	if err != nil {
		logger.Error("failed to initialize the cluster", zap.Error(err))
		os.Exit(1)
	}

	// setup the web service
	webListenAddress := fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
	webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger.Named("webapi"),
		LogLevel:      &logLevel,
		ListenAddress: webListenAddress,
		Cluster:       c,
		TLSConfig:     webTLSConfig,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchTopology(ctx, logger, c)

	var publishWg sync.WaitGroup
	if seedRegistry != nil {
		go watchSeeds(ctx, logger, seedRegistry, c)

		if config.etcdPublish {
			publishWg.Add(1)
			go func() {
				defer publishWg.Done()
				publishSeeds(ctx, logger, seedRegistry, c)
			}()
		}
	}

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		err := viper.ReadInConfig()
		if err != nil {
			logger.Warn("failed to parse configuration file",
				zap.Error(err))
		}

		newConfig := readConfig(logger)

		if newConfig.clusterName != config.clusterName ||
			credentialsChanged(config, newConfig) {
			logger.Warn("config changes for clusterName, user, pass, or cloud secret credentials require a restart")
		}

		if newConfig.tendInterval != config.tendInterval ||
			newConfig.connectionTimeout != config.connectionTimeout ||
			newConfig.idleTimeout != config.idleTimeout ||
			newConfig.poolSize != config.poolSize ||
			newConfig.rackAware != config.rackAware {
			logger.Warn("config changes for tendInterval, connectionTimeout, idleTimeout, poolSize, or rackAware require a restart")
		}

		if newConfig.useTLS != config.useTLS ||
			newConfig.caCertPath != config.caCertPath ||
			newConfig.selfSign != config.selfSign ||
			newConfig.webCertPath != config.webCertPath ||
			newConfig.webKeyPath != config.webKeyPath {
			logger.Warn("config changes for tls, caCertPath, selfSign, webCertPath, or webKeyPath require a restart")
		}

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.webPort != config.webPort ||
			newConfig.etcdEndpoints != config.etcdEndpoints ||
			newConfig.etcdPrefix != config.etcdPrefix ||
			newConfig.etcdPublish != config.etcdPublish {
			logger.Warn("config changes for bindAddress, webPort, etcdEndpoints, etcdPrefix, or etcdPublish require a restart")
		}

		if newConfig.otlpEndpoint != config.otlpEndpoint ||
			newConfig.disableOtlpTraces != config.disableOtlpTraces ||
			newConfig.disableOtlpMetrics != config.disableOtlpMetrics ||
			newConfig.traceEverything != config.traceEverything {
			logger.Warn("config changes for otlpEndpoint, disableOtlpTraces, disableOtlpMetrics, or traceEverything require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel, err := zapcore.ParseLevel(newConfig.logLevelStr)
			if err != nil {
				logger.Warn("invalid log level specified, using INFO instead")
				newParsedLogLevel = zapcore.InfoLevel
			}

			logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		if newConfig.seeds != config.seeds {
			newSeeds, err := cluster.ParseHosts(newConfig.seeds, cluster.DefaultPort)
			if err != nil {
				logger.Warn("failed to parse updated seeds", zap.Error(err))
			} else {
				c.AddSeeds(newSeeds...)
				logger.Info("added seeds", zap.Any("seeds", newSeeds))
			}
		}

		config = newConfig
	}

	if watchCfgFile {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	sigCh := make(chan os.Signal, 10)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("Received SIGHUP, reloading configuration...")
			reloadConfiguration()
			continue
		}

		logger.Info("Received shutdown signal, closing cluster...", zap.Stringer("signal", sig))
		break
	}

	signal.Stop(sigCh)
	cancel()
	publishWg.Wait()
	c.Close()

	logger.Info("tender shutdown gracefully")
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
