// Package runner parses labfixtures command flags and runs the fixture
// commands against the configured store and fixture set.
package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
	"github.com/abates/network-lab-runner/fixtureset"
	"github.com/abates/network-lab-runner/internal/config"
	"github.com/abates/network-lab-runner/internal/telemetry"
	"github.com/abates/network-lab-runner/store"
)

const serviceName = "labfixtures"

// Commands in the order they are listed in usage output.
var Commands = []string{"dump", "restore", "reap", "load", "list"}

// ErrUsage is returned for a missing or malformed command line.
var ErrUsage = errors.New("usage: labfixtures [flags] dump|restore|list|reap <file>|load <file>")

// Config holds labfixtures command configuration.
type Config struct {
	Command string
	File    string

	Driver       string        `env:"DRIVER" envDefault:"sqlite"`
	DSN          string        `env:"DSN" envDefault:"lab.db"`
	Path         string        `env:"PATH" envDefault:"fixtures"`
	Catalog      string        `env:"CATALOG"`
	Migrations   string        `env:"MIGRATIONS"`
	MetricsFile  string        `env:"METRICS_FILE"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10m"`
	Verbose      bool          `env:"VERBOSE"`
	OTelEndpoint string        `env:"OTEL_ENDPOINT"`

	Dynamo store.Config `envPrefix:"DYNAMO_"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Dynamo: store.DefaultConfig()}
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "Data store driver: sqlite, postgres or dynamodb")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Database file (sqlite) or connection string (postgres)")
	fs.StringVar(&cfg.Path, "path", cfg.Path, "Fixture directory or s3://bucket/prefix")
	fs.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "Collection catalog JSON file (default: built-in lab catalog)")
	fs.StringVar(&cfg.Migrations, "migrations", cfg.Migrations, "Directory of schema migrations applied before running (sql drivers)")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write Prometheus metrics to this textfile after the run")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Abort the run after this long")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.Dynamo.TablePrefix, "table-prefix", cfg.Dynamo.TablePrefix, "Prefix for DynamoDB collection tables")
	fs.IntVar(&cfg.Dynamo.NumShards, "shards", cfg.Dynamo.NumShards, "DynamoDB relationship table shards")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Command = fs.Arg(0)
	cfg.File = fs.Arg(1)
	if err := cfg.validate(fs.NArg()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate(nargs int) error {
	if !slices.Contains(Commands, c.Command) {
		if c.Command == "" {
			return ErrUsage
		}
		return fmt.Errorf("%w: unknown command %q", ErrUsage, c.Command)
	}
	wantArgs := 1
	if c.Command == "reap" || c.Command == "load" {
		wantArgs = 2
	}
	if nargs != wantArgs {
		return fmt.Errorf("%w: %s takes %d argument(s)", ErrUsage, c.Command, wantArgs-1)
	}
	switch c.Driver {
	case "sqlite", "postgres", "dynamodb":
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Run executes the configured command. Progress is logged to errOut;
// command output (the list of fixture files) goes to out.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) (err error) {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	shutdown, err := telemetry.SetupTracing(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := shutdown(shutdownCtx); serr != nil {
			logger.Warn("tracing shutdown failed", "error", serr)
		}
	}()

	metrics := telemetry.NewMetrics()
	start := time.Now()
	defer func() {
		metrics.RecordRun(cfg.Command, start, err)
		if cfg.MetricsFile == "" {
			return
		}
		if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
			logger.Warn("write metrics failed", "file", cfg.MetricsFile, "error", werr)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	registry, groups, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}
	set, err := fixtureset.Open(ctx, cfg.Path)
	if err != nil {
		return err
	}

	if cfg.Command == "list" {
		files, err := fixture.NewLifecycle(set, nil, nil, logger).Discover(ctx)
		if err != nil {
			return err
		}
		for _, name := range files {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	s, closeStore, err := openStore(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("running", "command", cfg.Command, "driver", cfg.Driver, "path", cfg.Path)
	switch cfg.Command {
	case "dump":
		serializer := fixture.NewSerializer(s, registry, logger)
		serializer.SetObserver(metrics)
		return fixture.NewWriter(serializer, set, logger).Write(ctx, groups)
	default:
		reaper := fixture.NewReaper(s, registry, logger)
		reaper.SetObserver(metrics)
		loader := fixture.NewLoader(s, registry, logger)
		loader.SetObserver(metrics)
		lc := fixture.NewLifecycle(set, reaper, loader, logger)

		switch cfg.Command {
		case "restore":
			return lc.Refresh(ctx)
		case "reap":
			return lc.ReapFile(ctx, cfg.File)
		default:
			return lc.LoadFile(ctx, cfg.File)
		}
	}
}

func loadCatalog(path string) (*collection.Registry, []collection.Group, error) {
	if path == "" {
		return collection.DefaultCatalog()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	registry, groups, err := collection.LoadCatalog(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return registry, groups, nil
}
