// Package main - progressctl, a command-line driver for the completion
// sync pipeline. It wires the full client stack (identity resolution,
// duplicate suppression, serialized submission with backoff, snapshot
// projection) against a progress store and exposes it as subcommands:
//
//	progressctl submit  -lesson 42 -day 0 -activity 1 -type quiz
//	progressctl progress -lesson 42 -definition lesson.json [-refresh]
//	progressctl remove  -lesson 42 -day 0 -activity 1 -type quiz
//
// Authentication comes from PROGRESS_TOKEN and PROGRESS_EXTERNAL_ID.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/lumilearn/progress-sync/config"
	"github.com/lumilearn/progress-sync/internal/application/command"
	"github.com/lumilearn/progress-sync/internal/application/query"
	"github.com/lumilearn/progress-sync/internal/domain/progress"
	"github.com/lumilearn/progress-sync/internal/infrastructure/external/progressapi"
	"github.com/lumilearn/progress-sync/internal/infrastructure/identity"
	"github.com/lumilearn/progress-sync/internal/infrastructure/messaging"
	"github.com/lumilearn/progress-sync/internal/infrastructure/persistence/redis"
	"github.com/lumilearn/progress-sync/internal/infrastructure/service"
	"github.com/lumilearn/progress-sync/internal/infrastructure/syncqueue"
	"github.com/lumilearn/progress-sync/pkg/backoff"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: progressctl <submit|progress|remove> [flags]")
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	app, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	switch args[0] {
	case "submit":
		return app.submit(ctx, args[1:])
	case "progress":
		return app.progress(ctx, args[1:])
	case "remove":
		return app.remove(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q (want submit, progress or remove)", args[0])
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PIPELINE WIRING
// ══════════════════════════════════════════════════════════════════════════════

// pipeline holds the wired client stack for the lifetime of one invocation.
type pipeline struct {
	submitHandler   *command.SubmitCompletionHandler
	removeHandler   *command.RemoveCompletionHandler
	progressHandler *query.GetLessonProgressHandler

	queue      *syncqueue.SerialQueue
	bus        *messaging.InMemoryEventBus
	redisCache *redis.Cache
	log        *slog.Logger
}

func buildPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pipeline, error) {
	// Progress store client
	clientConfig := progressapi.DefaultClientConfig(cfg.Store.BaseURL)
	clientConfig.Timeout = cfg.Store.RequestTimeout
	clientConfig.Logger = log
	clientConfig.Debug = cfg.App.Debug
	client := progressapi.NewClient(clientConfig)

	// Identity
	tokens := envTokenProvider{
		token:      os.Getenv("PROGRESS_TOKEN"),
		externalID: os.Getenv("PROGRESS_EXTERNAL_ID"),
	}
	resolver := identity.NewResolver(tokens, identity.NewAPILookup(client), identity.WithLogger(log))

	// Write-path primitives
	queue := syncqueue.NewSerialQueue(syncqueue.Config{
		Depth:  cfg.Sync.QueueCapacity,
		Logger: log,
	})
	deduper := syncqueue.NewCooldownCache(cfg.Sync.DedupCooldown, nil)

	// Event bus: synchronous, so events settle before the process exits.
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.AsyncMode = false
	busConfig.Logger = log
	bus := messaging.NewInMemoryEventBus(busConfig)

	// Snapshot cache (optional). The write side only invalidates; the
	// read side reads and writes.
	var snapshots query.SnapshotCache = query.NopSnapshotCache{}
	var invalidator command.SnapshotInvalidator = command.NopSnapshotInvalidator{}
	var redisCache *redis.Cache
	if !cfg.Redis.Disabled {
		redisConfig := redis.DefaultConfig()
		redisConfig.Host = cfg.Redis.Host
		redisConfig.Port = cfg.Redis.Port
		redisConfig.Password = cfg.Redis.Password
		redisConfig.DB = cfg.Redis.DB
		redisConfig.PoolSize = cfg.Redis.PoolSize

		cache, err := redis.NewCache(redisConfig)
		if err != nil {
			log.Warn("redis unavailable, snapshot caching disabled", "error", err)
		} else {
			redisCache = cache
			snapshotCache := redis.NewSnapshotCache(cache, cfg.Sync.SnapshotTTL, log)
			snapshots = snapshotCache
			invalidator = snapshotCache
		}
	}

	store := service.NewProgressStoreAdapter(client)
	schedule := backoff.Schedule{
		Initial:     cfg.Sync.InitialDelay,
		Factor:      cfg.Sync.Multiplier,
		MaxAttempts: cfg.Sync.MaxAttempts,
	}

	return &pipeline{
		submitHandler: command.NewSubmitCompletionHandler(
			service.NewCommandIdentityAdapter(resolver),
			store,
			deduper,
			queue,
			bus,
			command.SubmitCompletionHandlerConfig{Schedule: schedule, Snapshots: invalidator},
		),
		removeHandler: command.NewRemoveCompletionHandler(
			service.NewCommandIdentityAdapter(resolver),
			store,
			deduper,
			queue,
			bus,
			command.SubmitCompletionHandlerConfig{Schedule: schedule, Snapshots: invalidator},
		),
		progressHandler: query.NewGetLessonProgressHandler(
			service.NewQueryIdentityAdapter(resolver),
			store,
			snapshots,
			bus,
			query.GetLessonProgressHandlerConfig{Schedule: schedule, Logger: log},
		),
		queue:      queue,
		bus:        bus,
		redisCache: redisCache,
		log:        log,
	}, nil
}

func (p *pipeline) close() {
	p.queue.Close()
	_ = p.bus.Close()
	if p.redisCache != nil {
		_ = p.redisCache.Close()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBCOMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func (p *pipeline) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	lessonID := fs.Int64("lesson", 0, "lesson id")
	dayIndex := fs.Int("day", 0, "zero-based day index")
	activityIndex := fs.Int("activity", 0, "zero-based activity index")
	activityType := fs.String("type", "", "activity type (video, reading, quiz, flashcards, game)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := p.submitHandler.Handle(ctx, command.SubmitCompletionCommand{
		LessonID:      *lessonID,
		DayIndex:      *dayIndex,
		ActivityIndex: *activityIndex,
		ActivityType:  progress.ActivityType(*activityType),
	})
	if err != nil {
		return err
	}

	fmt.Println(result.Message)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func (p *pipeline) remove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	lessonID := fs.Int64("lesson", 0, "lesson id")
	dayIndex := fs.Int("day", 0, "zero-based day index")
	activityIndex := fs.Int("activity", 0, "zero-based activity index")
	activityType := fs.String("type", "", "activity type (video, reading, quiz, flashcards, game)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := p.removeHandler.Handle(ctx, command.RemoveCompletionCommand{
		LessonID:      *lessonID,
		DayIndex:      *dayIndex,
		ActivityIndex: *activityIndex,
		ActivityType:  progress.ActivityType(*activityType),
	})
	if err != nil {
		return err
	}

	fmt.Println(result.Message)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func (p *pipeline) progress(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("progress", flag.ExitOnError)
	lessonID := fs.Int64("lesson", 0, "lesson id")
	definitionPath := fs.String("definition", "", "path to the lesson definition JSON")
	refresh := fs.Bool("refresh", false, "bypass the snapshot cache")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var def *progress.LessonDefinition
	if *definitionPath != "" {
		data, err := os.ReadFile(*definitionPath)
		if err != nil {
			return fmt.Errorf("failed to read lesson definition: %w", err)
		}
		def, err = progress.ParseLessonDefinition(data)
		if err != nil {
			return err
		}
	}

	snapshot, err := p.progressHandler.Handle(ctx, query.GetLessonProgressQuery{
		LessonID:    *lessonID,
		Definition:  def,
		BypassCache: *refresh,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// envTokenProvider serves a fixed token from the environment. The mobile
// client wraps its auth SDK here instead.
type envTokenProvider struct {
	token      string
	externalID string
}

func (p envTokenProvider) IDToken(context.Context) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("PROGRESS_TOKEN is not set")
	}
	return p.token, nil
}

func (p envTokenProvider) ExternalID() string {
	return p.externalID
}

// setupLogger builds the structured logger from observability settings.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	// Command-line output stays on stdout; diagnostics go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(log)

	return log
}
