package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/wesm/github-activity-digest/config"
	"github.com/wesm/github-activity-digest/internal/api"
	"github.com/wesm/github-activity-digest/internal/attention"
	"github.com/wesm/github-activity-digest/internal/automation"
	"github.com/wesm/github-activity-digest/internal/businessday"
	"github.com/wesm/github-activity-digest/internal/db"
	"github.com/wesm/github-activity-digest/internal/runs"
	"github.com/wesm/github-activity-digest/internal/scheduler"
	"github.com/wesm/github-activity-digest/internal/service"
	"github.com/wesm/github-activity-digest/internal/snapshot"
	"github.com/wesm/github-activity-digest/internal/sync"
)

func main() {
	configPath := pflag.String("config", "config.json", "Path to configuration file")
	createConfig := pflag.Bool("init", false, "Create a default configuration file if it doesn't exist")
	addRepo := pflag.String("add-repo", "", "Add a repository to the configuration (format: owner/name)")
	runSync := pflag.Bool("sync", false, "Run one sync of the configured repositories")
	full := pflag.Bool("full", false, "Walk every page instead of the incremental window")
	repos := pflag.StringSlice("repo", nil, "Limit the sync to these repositories (format: owner/name)")
	resync := pflag.String("resync", "", "Refetch a single issue, pull request or discussion by node ID")
	runAutomation := pflag.Bool("automation", false, "Run the status automation job")
	force := pflag.Bool("force", false, "Run status automation even if already applied for the last sync")
	insights := pflag.Bool("insights", false, "Print attention insights as JSON")
	serve := pflag.Bool("serve", false, "Run incremental syncs on the configured interval until interrupted")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, *configPath, options{
		createConfig: *createConfig,
		addRepo:      *addRepo,
		sync:         *runSync,
		full:         *full,
		repos:        *repos,
		resync:       *resync,
		automation:   *runAutomation,
		force:        *force,
		insights:     *insights,
		serve:        *serve,
	}); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	createConfig bool
	addRepo      string
	sync         bool
	full         bool
	repos        []string
	resync       string
	automation   bool
	force        bool
	insights     bool
	serve        bool
}

func run(logger *slog.Logger, configPath string, opts options) error {
	if opts.createConfig {
		if err := config.CreateDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default configuration: %w", err)
		}
		logger.Info("Created default configuration", "path", configPath)
		return nil
	}

	if opts.addRepo != "" {
		if err := addRepository(configPath, opts.addRepo, logger); err != nil {
			return err
		}
		if !opts.sync && !opts.serve {
			return nil
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if !opts.sync && opts.resync == "" && !opts.automation && !opts.insights && !opts.serve {
		printUsage()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	syncConfig := cfg.ToSyncConfig()
	if err := database.SaveSyncConfig(ctx, syncConfig); err != nil {
		return err
	}

	calendar, err := businessday.Load(cfg.Timezone, cfg.Holidays)
	if err != nil {
		return err
	}

	hints := api.NewRateLimitHints()
	httpClient := api.NewHTTPClient(ctx, cfg.GitHubToken, hints)
	fetcher := api.NewFetcher(api.NewGraphQLClient(httpClient), hints, cfg.RetryPolicy(), logger)
	client := api.NewGitHubClient(httpClient, fetcher, logger)
	source := api.NewGraphQLSource(fetcher, cfg.StatusField)

	svc := service.New(service.Deps{
		DB:         database,
		Collector:  sync.New(database, source, client, syncConfig, cfg.Repositories, logger),
		Automation: automation.New(database, logger),
		Snapshot:   snapshot.New(database, logger),
		Attention:  attention.NewEngine(database, calendar, cfg.Thresholds, logger),
		Runs:       runs.NewRegistry(0),
		Logger:     logger,
	})

	if opts.sync || opts.resync != "" {
		if cfg.GitHubToken == "" {
			return fmt.Errorf("a GitHub token is required; set github_token or %s", config.EnvGithubToken)
		}
		if rl, err := client.GraphQLRateLimit(ctx); err == nil {
			logger.Info("GraphQL rate limit", "remaining", rl.Remaining, "limit", rl.Limit, "reset", rl.Reset)
		} else {
			logger.Warn("Could not read rate limit", "error", err)
		}
	}

	if opts.sync {
		req := service.SyncRequest{Mode: sync.ModeIncremental}
		if opts.full {
			req.Mode = sync.ModeFull
		}
		for _, name := range opts.repos {
			id, err := repositoryID(ctx, database, client, name)
			if err != nil {
				return err
			}
			req.RepositoryIDs = append(req.RepositoryIDs, id)
		}
		start := time.Now()
		res, err := svc.RunSync(ctx, req)
		if err != nil {
			return err
		}
		logger.Info("Sync completed", "duration", time.Since(start), "run", res.RunID)
		if err := printJSON(res); err != nil {
			return err
		}
	}

	if opts.resync != "" {
		res, err := svc.ResyncItem(ctx, opts.resync)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
	}

	if opts.automation {
		res, err := svc.RunStatusAutomation(ctx, opts.force, "cli")
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
	}

	if opts.insights {
		report, err := svc.GetAttentionInsights(ctx, service.AttentionQuery{})
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
	}

	if opts.serve {
		if cfg.GitHubToken == "" {
			return fmt.Errorf("a GitHub token is required; set github_token or %s", config.EnvGithubToken)
		}
		return scheduler.New(svc, time.Duration(cfg.SyncInterval), logger).Run(ctx)
	}
	return nil
}

func addRepository(configPath, repo string, logger *slog.Logger) error {
	if _, _, err := sync.ParseRepositoryString(repo); err != nil {
		return fmt.Errorf("invalid repository format: %w", err)
	}
	added, err := config.AddRepository(configPath, repo)
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	if added {
		logger.Info("Added repository to configuration", "repository", repo)
	} else {
		logger.Info("Repository already exists in configuration", "repository", repo)
	}
	return nil
}

// repositoryID maps owner/name to a node ID, fetching metadata for
// repositories never synced before
func repositoryID(ctx context.Context, database *db.DB, client *api.GitHubClient, fullName string) (string, error) {
	owner, name, err := sync.ParseRepositoryString(fullName)
	if err != nil {
		return "", err
	}
	repo, err := database.GetRepositoryByFullName(ctx, owner+"/"+name)
	if err != nil {
		return "", err
	}
	if repo == nil {
		if repo, err = client.GetRepository(ctx, owner, name); err != nil {
			return "", err
		}
		if err := database.SaveRepository(ctx, repo); err != nil {
			return "", err
		}
	}
	return repo.ID, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Println("GitHub activity digest")
	fmt.Println("----------------------")
	fmt.Println("Use --sync to sync the configured repositories (--full to walk everything, --repo owner/name to limit)")
	fmt.Println("Use --resync <node-id> to refetch a single item")
	fmt.Println("Use --automation [--force] to run status automation")
	fmt.Println("Use --insights to print attention insights")
	fmt.Println("Use --serve to sync on the configured interval")
	fmt.Println("Use --add-repo owner/name to add a repository to the configuration")
	fmt.Println("Use --init to create a default configuration file")
	fmt.Println("Use --config path/to/config.json to specify a custom configuration file")
	fmt.Println()
	fmt.Printf("GitHub token can be provided via the %s environment variable\n", config.EnvGithubToken)
}
