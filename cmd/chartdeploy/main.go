package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/telekom/k8s-chartdeploy/pkg/api"
	"github.com/telekom/k8s-chartdeploy/pkg/chart"
	"github.com/telekom/k8s-chartdeploy/pkg/cli"
	"github.com/telekom/k8s-chartdeploy/pkg/cluster"
	"github.com/telekom/k8s-chartdeploy/pkg/config"
	"github.com/telekom/k8s-chartdeploy/pkg/deploy"
	"github.com/telekom/k8s-chartdeploy/pkg/events"
	"github.com/telekom/k8s-chartdeploy/pkg/helm"
	"github.com/telekom/k8s-chartdeploy/pkg/inventory"
	"github.com/telekom/k8s-chartdeploy/pkg/kubeconfig"
	"github.com/telekom/k8s-chartdeploy/pkg/mail"
	"github.com/telekom/k8s-chartdeploy/pkg/process"
	"github.com/telekom/k8s-chartdeploy/pkg/ratelimit"
	"github.com/telekom/k8s-chartdeploy/pkg/registry"
	"github.com/telekom/k8s-chartdeploy/pkg/validation"
	"github.com/telekom/k8s-chartdeploy/pkg/version"
)

func main() {
	cliCfg := cli.Parse()

	zl := setupLogger(cliCfg.Debug)
	// controller-runtime logs through zap instead of its default stacktrace output
	ctrl.SetLogger(zapr.NewLogger(zl))
	log := zl.Sugar()
	defer func() { _ = zl.Sync() }()

	log.Infow("Starting chartdeploy", "version", version.GetBuildInfo().String())
	cliCfg.Print(log)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		log.Fatalf("Error loading chartdeploy config: %v", err)
	}
	if cliCfg.ListenAddress != "" {
		cfg.Server.ListenAddress = cliCfg.ListenAddress
	}
	cfg.Print(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cliCfg, cfg, zl); err != nil {
		log.Fatalf("chartdeploy stopped with error: %v", err)
	}
	log.Info("chartdeploy stopped")
}

// run wires the components and serves until ctx is cancelled.
func run(ctx context.Context, cliCfg *cli.Config, cfg config.Config, zl *zap.Logger) error {
	log := zl.Sugar()

	clusters, repositories, err := buildRegistries(cfg, cliCfg.PodNamespace, newKubeClient, log)
	if err != nil {
		return err
	}

	commands := helm.NewCommandBuilder(cfg.BuilderConfig(), helm.NewRepositoryFile(cfg.Helm.RepositoryConfig), log)
	descriptors := kubeconfig.NewBuilder(cfg.Helm.TempDir, log)
	runner := process.NewRunner(log)

	clientsets := cluster.NewClientsetFunc(descriptors, cfg.ProberConfig().Timeout)
	prober := cluster.NewProber(cfg.ProberConfig(), clientsets, nil, log)
	validator := validation.NewValidator(cfg.ValidatorConfig(), commands, descriptors, runner, prober, log)

	recorder, err := buildRecorder(cfg, zl)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := recorder.Close(); closeErr != nil {
			log.Warnw("Failed to close deployment event sink", "error", closeErr)
		}
	}()

	orchestrator := deploy.NewOrchestrator(cfg.OrchestratorConfig(), commands, descriptors, runner, log,
		deploy.WithProber(prober), deploy.WithRecorder(recorder))
	orchestrator.Start()

	svc, err := chart.NewService(chart.Config{CommandTimeout: cfg.CommandTimeout()}, chart.Components{
		Clusters:     clusters,
		Repositories: repositories,
		Validator:    validator,
		Orchestrator: orchestrator,
		Commands:     commands,
		Descriptors:  descriptors,
		Runner:       runner,
		Prober:       prober,
		Index:        chart.NewIndexClient(cfg.CommandTimeout(), log),
		Inventory:    inventory.NewScanner(clientsets, nil, log),
		Events:       recorder,
	}, log)
	if err != nil {
		return err
	}

	var tlsOptions []func(*tls.Config)
	if !cliCfg.EnableHTTP2 {
		tlsOptions = append(tlsOptions, cli.DisableHTTP2)
	}
	server := api.NewServer(api.ServerConfig{Log: zl, Cfg: cfg, Debug: cliCfg.Debug, TLSOptions: tlsOptions})

	deployLimiter := ratelimit.New(ratelimit.DefaultDeployConfig())
	defer deployLimiter.Stop()

	defaults := api.DeployDefaults{Wait: cfg.DefaultWait(), Timeout: cfg.DeployTimeout()}
	if err := server.RegisterAll([]api.APIController{
		api.NewChartController(svc, defaults, deployLimiter, log),
		api.NewReleaseController(svc, log),
		api.NewDeploymentController(orchestrator),
	}); err != nil {
		return fmt.Errorf("registering controllers: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Listen() }()

	select {
	case err = <-serveErr:
		log.Errorw("API server exited", "error", err)
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	timeout := cli.ParseShutdownTimeout(cliCfg.ShutdownTimeout, log)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warnw("API server did not shut down cleanly", "error", shutdownErr)
	}
	if stopErr := orchestrator.Stop(shutdownCtx); stopErr != nil {
		log.Warnw("Deployment workers did not drain before the shutdown timeout", "error", stopErr)
	}
	return err
}

// buildRecorder fans deployment events out to the log, Kafka and mail sinks
// that are enabled. It returns nil when both are off.
func buildRecorder(cfg config.Config, zl *zap.Logger) (*events.Recorder, error) {
	var sinks []events.Sink
	if cfg.EventLogEnabled() {
		sinks = append(sinks, events.NewLogSink(zl))
	}
	if kc, ok := cfg.KafkaSinkConfig(); ok {
		sink, err := events.NewKafkaSink(kc, zl)
		if err != nil {
			return nil, fmt.Errorf("creating kafka event sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if mc, ok := cfg.MailConfig(); ok {
		notifier, err := mail.NewNotifier(mail.NewSender(mc, zl.Sugar()), mc.Recipients)
		if err != nil {
			return nil, fmt.Errorf("creating mail notifier: %w", err)
		}
		sinks = append(sinks, notifier)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return events.NewRecorder(sinks[0], cfg.RecorderConfig(), nil, zl), nil
	default:
		return events.NewRecorder(events.NewMultiSink(sinks...), cfg.RecorderConfig(), nil, zl), nil
	}
}

type kubeClientFunc func() (ctrlclient.Client, error)

func newKubeClient() (ctrlclient.Client, error) {
	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("loading in-cluster config: %w", err)
	}
	return ctrlclient.New(restCfg, ctrlclient.Options{})
}

// buildRegistries returns the cluster registry selected by registry.source.
// Repositories always come from the config file.
func buildRegistries(cfg config.Config, podNamespace string, newClient kubeClientFunc, log *zap.SugaredLogger) (registry.Clusters, registry.Repositories, error) {
	switch cfg.Registry.Source {
	case config.RegistrySecrets:
		static, err := registry.NewStatic(nil, cfg.Repositories)
		if err != nil {
			return nil, nil, err
		}
		c, err := newClient()
		if err != nil {
			return nil, nil, err
		}
		ns := cfg.Registry.Namespace
		if ns == "" {
			ns = podNamespace
		}
		log.Infow("Reading cluster credentials from Secrets", "namespace", ns, "cacheTTL", cfg.CacheTTL())
		return registry.NewSecretStore(c, ns, cfg.CacheTTL(), nil, log), static, nil
	case config.RegistryStatic, "":
		static, err := registry.NewStatic(cfg.Clusters, cfg.Repositories)
		if err != nil {
			return nil, nil, err
		}
		return static, static, nil
	default:
		return nil, nil, errors.New("unknown registry source: " + cfg.Registry.Source)
	}
}

func setupLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return logger
}
