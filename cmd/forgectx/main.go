// forgectx is the operational entry point for the context and memory
// subsystem.
//
// Usage:
//
//	forgectx resolve --domain python --executor code-reviewer --project acme-app --signals fastapi
//	forgectx classify --project acme-app
//	forgectx serve-metrics --config config.yaml
//	forgectx version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/forgeworks/forgectx/config"
	"github.com/forgeworks/forgectx/internal/metrics"
	"github.com/forgeworks/forgectx/internal/telemetry"
	"github.com/forgeworks/forgectx/lifecycle"
	"github.com/forgeworks/forgectx/memory"
	"github.com/forgeworks/forgectx/orchestrator"
	"github.com/forgeworks/forgectx/provider"
	"github.com/forgeworks/forgectx/registry"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "resolve":
		runResolve(os.Args[2:])
	case "classify":
		runClassify(os.Args[2:])
	case "serve-metrics":
		runServeMetrics(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// app bundles the wired subsystem shared by all commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     memory.Store
	manager   *lifecycle.Manager
	registry  *registry.Registry
	provider  *provider.Provider
	collector *metrics.Collector
	telemetry *telemetry.Providers
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.NewLogger(cfg.Log)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	store, err := memory.NewStore(cfg.Memory.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	manager, err := lifecycle.NewManager(store, cfg.Lifecycle.ManagerConfig(cfg.Memory.StoreConfig().Limits), logger)
	if err != nil {
		return nil, fmt.Errorf("build lifecycle manager: %w", err)
	}
	store.SetArchiver(manager)

	loader := registry.NewDirectoryLoader(cfg.Registry.ContextDir, logger)
	reg, warnings, err := loader.LoadAll(logger)
	if err != nil {
		return nil, fmt.Errorf("load context registry: %w", err)
	}
	for _, w := range warnings {
		logger.Warn("registry load warning", zap.String("path", w.Path), zap.String("reason", w.Reason))
	}

	triggers, err := cfg.Provider.TriggerTable()
	if err != nil {
		return nil, fmt.Errorf("build cross-domain trigger table: %w", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		manager:   manager,
		registry:  reg,
		provider:  provider.New(reg, triggers, nil, logger),
		collector: collector,
		telemetry: providers,
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func runResolve(args []string) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	domain := fs.String("domain", "", "Primary domain")
	executor := fs.String("executor", "adhoc", "Executor name")
	project := fs.String("project", "", "Project name")
	budget := fs.Int("budget", 0, "File budget (0 uses the configured default)")
	signals := fs.String("signals", "", "Comma-separated detection keywords")
	always := fs.String("always", "", "Comma-separated extra always-load artifact refs")
	fs.Parse(args)

	if *domain == "" || *project == "" {
		fmt.Fprintln(os.Stderr, "resolve requires --domain and --project")
		os.Exit(1)
	}

	a, err := buildApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer a.close()

	o, err := orchestrator.New(a.provider, a.store, a.collector, orchestrator.Config{
		StoreTimeout:      a.cfg.Orchestrator.StoreTimeout,
		DefaultFileBudget: a.cfg.Provider.DefaultFileBudget,
	}, a.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	profile := orchestrator.ExecutorProfile{
		Name:            *executor,
		PrimaryDomain:   *domain,
		AlwaysLoadFiles: splitList(*always),
		FileBudget:      *budget,
		MemoryScopes: []orchestrator.MemoryScope{
			{Scope: memory.ScopeSharedProject, FileTypes: []string{"detection_signals", "project_overview"}},
		},
	}

	// A resolve-only run loads memory and context but executes nothing
	// and writes nothing back.
	noop := orchestrator.ExecutorFunc(func(context.Context, *orchestrator.MemorySnapshot, []provider.Selection) ([]orchestrator.Update, error) {
		return nil, nil
	})

	manifest, err := o.Run(context.Background(), profile, *project, noop,
		provider.DetectionSignals{Keywords: splitList(*signals)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(manifest)
}

func runClassify(args []string) {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	project := fs.String("project", "", "Project name")
	fs.Parse(args)

	if *project == "" {
		fmt.Fprintln(os.Stderr, "classify requires --project")
		os.Exit(1)
	}

	a, err := buildApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer a.close()

	report, err := a.manager.Scan(context.Background(), *project)
	if err != nil {
		fmt.Fprintf(os.Stderr, "classify failed: %v\n", err)
		os.Exit(1)
	}
	if a.collector != nil {
		for tier, count := range report.Counts {
			a.collector.RecordTierCount(*project, string(tier), count)
		}
	}

	var artifacts []lifecycle.ArtifactFinding
	for _, domain := range a.registry.Domains() {
		descriptors, err := a.registry.ResolveIndex(domain)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, a.manager.ReportArtifacts(descriptors)...)
	}

	printJSON(struct {
		Memory    *lifecycle.Report           `json:"memory"`
		Artifacts []lifecycle.ArtifactFinding `json:"artifacts,omitempty"`
	}{report, artifacts})
}

func runServeMetrics(args []string) {
	fs := flag.NewFlagSet("serve-metrics", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	projects := fs.String("projects", "", "Comma-separated projects to scan periodically")
	fs.Parse(args)

	a, err := buildApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer a.close()

	scanCtx, cancelScans := context.WithCancel(context.Background())
	defer cancelScans()
	if scanned := splitList(*projects); len(scanned) > 0 {
		go func() {
			_ = a.manager.ScanLoop(scanCtx, scanned, func(report *lifecycle.Report) {
				if a.collector == nil {
					return
				}
				for tier, count := range report.Counts {
					a.collector.RecordTierCount(report.Project, string(tier), count)
				}
			})
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "OK")
	})

	addr := a.cfg.Metrics.Addr
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("metrics listener started", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("metrics listener failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.logger.Warn("metrics listener shutdown", zap.Error(err))
	}
	a.logger.Info("forgectx stopped")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("forgectx %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`forgectx - context and memory management subsystem

Usage:
  forgectx <command> [options]

Commands:
  resolve        Resolve a working set and print the session manifest
  classify       Scan a project's shared memory and print the freshness report
  serve-metrics  Expose prometheus metrics and a health endpoint
  version        Show version information
  help           Show this help message

Options for 'serve-metrics':
  --config <path>     Path to configuration file (YAML)
  --projects <a,b>    Projects to scan periodically, publishing tier gauges

Options for 'resolve':
  --config <path>     Path to configuration file (YAML)
  --domain <name>     Primary domain (required)
  --project <name>    Project name (required)
  --executor <name>   Executor name (default: adhoc)
  --budget <n>        File budget (0 uses the configured default)
  --signals <a,b>     Comma-separated detection keywords
  --always <refs>     Extra always-load artifact refs (domain/id)

Examples:
  forgectx resolve --domain python --project acme-app --signals fastapi
  forgectx classify --project acme-app
  forgectx serve-metrics --config /etc/forgectx/config.yaml`)
}
