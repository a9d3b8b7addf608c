package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"reclameaqui-pipeline/internal/components/chrono"
	"reclameaqui-pipeline/internal/components/telemetry"
	"reclameaqui-pipeline/internal/finder"
	"reclameaqui-pipeline/internal/objectstore"
	"reclameaqui-pipeline/internal/pipeline"
	"reclameaqui-pipeline/internal/scrapers/reclameaqui"

	"github.com/spf13/cobra"
)

var (
	configPath string
	useMemory  bool
	verbose    bool
)

// env holds what the commands share, it is built before any command runs.
type env struct {
	cfg       Config
	clock     chrono.API
	tel       telemetry.API
	otel      telemetry.Telemetry
	gateway   *objectstore.Gateway
	session   *reclameaqui.Session
	pipeline  *pipeline.Pipeline
	finder    *finder.Finder
	stopStats context.CancelFunc
}

var current *env

func newEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:   cfg,
		clock: chrono.NewStandardImpl(),
		tel:   telemetry.SlogAPI{},
	}

	e.otel, err = telemetry.Setup(ctx, "reclameaqui-cli", cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	statsCtx, stopStats := context.WithCancel(context.Background())
	e.stopStats = stopStats
	if e.otel.Enabled() {
		telemetry.InstrumentPerfStats(statsCtx, 15*time.Second)
	}

	var backend objectstore.Backend
	if useMemory {
		backend = objectstore.NewMemoryBackend()
	} else {
		backend, err = objectstore.NewMinioBackend(objectstore.MinioOptions{
			Endpoint:  cfg.Store.Endpoint,
			AccessKey: cfg.Store.AccessKey,
			SecretKey: cfg.Store.SecretKey,
			Secure:    cfg.Store.Secure,
			Region:    cfg.Store.Region,
		})
		if err != nil {
			return nil, err
		}
	}
	e.gateway, err = objectstore.NewGateway(backend, e.clock, e.tel, objectstore.Options{
		Buckets:   cfg.Store.Buckets,
		CacheSize: cfg.Store.CacheSize,
	})
	if err != nil {
		return nil, err
	}

	e.session, err = reclameaqui.NewSession(reclameaqui.Options{
		Hosts:      cfg.Http.Hosts,
		Pacing:     cfg.Http.pacing(),
		UserAgents: cfg.Http.UserAgents,
		Timeout:    time.Duration(cfg.Http.TimeoutSeconds) * time.Second,
	}, e.clock, e.tel)
	if err != nil {
		return nil, err
	}

	e.pipeline = pipeline.NewPipeline(e.session, e.gateway, e.clock, e.tel)
	e.finder = finder.NewFinder(e.session, e.tel, cfg.Finder)
	return e, nil
}

func (e *env) close() {
	e.stopStats()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.otel.Shutdown(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
	}
}

var rootCmd = &cobra.Command{
	Use:           "reclameaqui-cli",
	Short:         "reclameaqui-cli collects Reclame Aqui data into a layered object store.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)
		e, err := newEnv(cmd.Context())
		if err != nil {
			return err
		}
		current = e
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "reclameaqui.json5", "The config file, looked up from the working directory upwards.")
	flags.BoolVar(&useMemory, "memory", false, "Use an in-memory object store instead of the configured server.")
	flags.BoolVar(&verbose, "verbose", false, "Enable debug logging.")
}

// ExecuteContext runs the command line and releases what the command used,
// exiting is left to the caller.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if current != nil {
		current.close()
		current = nil
	}
	return err
}
