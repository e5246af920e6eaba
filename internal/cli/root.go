package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lu-zhengda/portscope/internal/ancestry"
	"github.com/lu-zhengda/portscope/internal/config"
	"github.com/lu-zhengda/portscope/internal/port"
	"github.com/lu-zhengda/portscope/internal/process"
	"github.com/lu-zhengda/portscope/internal/refresh"
	"github.com/lu-zhengda/portscope/internal/runner"
	"github.com/lu-zhengda/portscope/internal/tui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	// Set via ldflags at build time.
	version = "dev"

	// Global flags.
	jsonOutput  bool
	configPath  string
	logFile     string
	verbose     bool
	metricsAddr string
	writeConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "portscope",
	Short: "Live inventory of listening ports and their processes",
	Long: `portscope shows which processes are listening on which TCP ports,
walks their parent chains, and lets you terminate them.
Launch without subcommands for the interactive live tree.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runTUI,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("portscope %s\n", version))
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.config/portscope/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file (TUI mode discards logs otherwise)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.Flags().BoolVar(&writeConfig, "write-config", false, "Write the effective config (defaults filled in) to the config path and exit")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(watchCmd)
}

// core bundles the components every command builds on.
type core struct {
	cfg        *config.Config
	logger     *slog.Logger
	run        runner.Runner
	resolver   *process.Resolver
	scanner    *port.LsofScanner
	controller *process.Controller
	ancestry   *ancestry.Resolver
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFrom(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newCore(logger *slog.Logger) (*core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	run := &runner.Real{}
	resolver := process.NewResolver(run, process.WithLogger(logger))
	scanner := port.NewLsofScanner(run, resolver, logger)
	scanner.SetExclude(cfg.Exclude)
	return &core{
		cfg:        cfg,
		logger:     logger,
		run:        run,
		resolver:   resolver,
		scanner:    scanner,
		controller: process.NewController(run, logger),
		ancestry:   ancestry.NewResolver(resolver),
	}, nil
}

// newCoordinator builds a coordinator and, when --metrics-addr is set,
// serves its metrics until ctx ends.
func (c *core) newCoordinator(ctx context.Context, interval time.Duration) *refresh.Coordinator {
	opts := []refresh.Option{refresh.WithLogger(c.logger)}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, refresh.WithMetrics(refresh.NewMetrics(reg)))
		serveMetrics(ctx, metricsAddr, reg, c.logger)
	}
	return refresh.New(c.scanner, interval, opts...)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// writeConfigFile fills in defaults for the config at path, clamps
// invalid values, and writes it back.
func writeConfigFile(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote config to %s\n", path)
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	if writeConfig {
		return writeConfigFile(cmd.OutOrStdout(), resolvedConfigPath())
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if logFile != "" {
		f, err := tea.LogToFile(logFile, "portscope")
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logger = newLogger(f)
	}

	c, err := newCore(logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	coord := c.newCoordinator(ctx, c.cfg.Interval())
	go func() {
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("refresh loop stopped", "err", err)
		}
	}()

	changes := make(chan *config.Config, 1)
	go func() {
		err := config.Watch(ctx, resolvedConfigPath(), logger, func(cfg *config.Config) {
			// Keep only the newest reload if the UI has not caught up.
			select {
			case <-changes:
			default:
			}
			changes <- cfg
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("config watch disabled", "err", err)
		}
	}()

	m := tui.New(tui.Deps{
		Coordinator:   coord,
		Controller:    c.controller,
		Expander:      ancestry.NewExpander(ctx, c.ancestry),
		Config:        c.cfg,
		ConfigChanges: changes,
		OnConfig: func(cfg *config.Config) {
			c.scanner.SetExclude(cfg.Exclude)
			coord.Refresh()
		},
		Version: version,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
