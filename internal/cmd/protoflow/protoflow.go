// Package protoflow parses runtime command flags, assembles the plugin
// catalog and snapshot store, and starts the runtime server.
package protoflow

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/protoflow/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/protoflow/internal/platform/grpc"
	"github.com/louisbranch/protoflow/internal/platform/logging"
	"github.com/louisbranch/protoflow/internal/platform/timeouts"
	server "github.com/louisbranch/protoflow/internal/services/protoflow/app"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugins/builtin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugins/luaplugin"
	"github.com/louisbranch/protoflow/internal/services/protoflow/plugins/routine"
	"github.com/louisbranch/protoflow/internal/services/protoflow/storage"
	"github.com/louisbranch/protoflow/internal/services/protoflow/storage/file"
	redisstore "github.com/louisbranch/protoflow/internal/services/protoflow/storage/redis"
	"github.com/louisbranch/protoflow/internal/services/protoflow/storage/sqlite"
)

// Version is stamped at build time.
var Version = "dev"

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds runtime command configuration.
type Config struct {
	HTTPAddr         string        `env:"PROTOFLOW_HTTP_ADDR"         envDefault:"127.0.0.1:9006"`
	HealthAddr       string        `env:"PROTOFLOW_HEALTH_ADDR"`
	Store            string        `env:"PROTOFLOW_STORE"             envDefault:"sqlite"`
	DBPath           string        `env:"PROTOFLOW_DB_PATH"           envDefault:"data/protoflow.db"`
	DataDir          string        `env:"PROTOFLOW_DATA_DIR"          envDefault:"data"`
	RedisAddr        string        `env:"PROTOFLOW_REDIS_ADDR"        envDefault:"localhost:6379"`
	RedisPassword    string        `env:"PROTOFLOW_REDIS_PASSWORD"`
	RedisDB          int           `env:"PROTOFLOW_REDIS_DB"          envDefault:"0"`
	PluginDir        string        `env:"PROTOFLOW_PLUGIN_DIR"        envDefault:"plugins"`
	Tick             time.Duration `env:"PROTOFLOW_TICK"              envDefault:"10ms"`
	SnapshotInterval time.Duration `env:"PROTOFLOW_SNAPSHOT_INTERVAL" envDefault:"60s"`
	LogLevel         string        `env:"PROTOFLOW_LOG_LEVEL"         envDefault:"info"`
	LogFile          string        `env:"PROTOFLOW_LOG_FILE"`

	// HealthCheck probes HealthAddr and exits instead of serving.
	HealthCheck bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP and WebSocket listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "snapshot store: sqlite, file or redis")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite snapshot database path")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "file snapshot directory")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	fs.StringVar(&cfg.PluginDir, "plugin-dir", cfg.PluginDir, "directory of Lua plugins and routine manifests")
	fs.DurationVar(&cfg.Tick, "tick", cfg.Tick, "run loop tick")
	fs.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "periodic snapshot interval")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "optional JSON log file")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "probe the health endpoint and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves the runtime, or probes a running one when HealthCheck is set.
func Run(ctx context.Context, cfg Config) error {
	if cfg.HealthCheck {
		return CheckHealth(ctx, cfg.HealthAddr)
	}

	logger, closeLog, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() {
		_ = closeLog()
	}()
	slog.SetDefault(logger)

	options := entrypoint.RunOptions{Logger: logger}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceProtoflow, options, func(ctx context.Context) error {
		store, err := OpenStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("close store", "error", err)
			}
		}()

		catalog, err := BuildCatalog(cfg.PluginDir, logger)
		if err != nil {
			return err
		}
		logger.Info("plugins loaded", "types", catalog.Len(), "plugin_dir", cfg.PluginDir, "store", cfg.Store)

		return server.Run(ctx, server.Config{
			HTTPAddr:         cfg.HTTPAddr,
			HealthAddr:       cfg.HealthAddr,
			Catalog:          catalog,
			Store:            store,
			Logger:           logger,
			Tick:             cfg.Tick,
			SnapshotInterval: cfg.SnapshotInterval,
			Version:          Version,
		})
	})
}

// OpenStore opens the snapshot backend selected by cfg.Store.
func OpenStore(ctx context.Context, cfg Config) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case StoreSQLite, "":
		return sqlite.Open(cfg.DBPath)
	case StoreFile:
		return file.Open(cfg.DataDir)
	case StoreRedis:
		return redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// BuildCatalog registers the built-in plugins, then routines and Lua scripts
// from pluginDir. Only a broken built-in is fatal; plugin directory failures
// are logged and the types that loaded are kept.
func BuildCatalog(pluginDir string, logger *slog.Logger) (*plugin.Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	catalog := plugin.NewCatalog()
	if err := builtin.Register(catalog); err != nil {
		return nil, fmt.Errorf("register builtin plugins: %w", err)
	}

	defaults, err := routine.Defaults()
	if err != nil {
		return nil, fmt.Errorf("load default routines: %w", err)
	}
	custom, err := routine.LoadDir(pluginDir)
	if err != nil {
		logger.Error("load routines", "dir", pluginDir, "error", err)
	}
	// Routines from the plugin directory shadow defaults with the same name.
	if err := routine.Register(catalog, append(custom, defaults...), logger); err != nil {
		logger.Error("register routines", "error", err)
	}

	scripts, err := luaplugin.LoadDir(pluginDir, logger)
	if err != nil {
		logger.Error("load lua plugins", "dir", pluginDir, "error", err)
	}
	for _, t := range scripts {
		if err := catalog.Register(t); err != nil {
			logger.Error("register lua plugin", "type", t.Name, "error", err)
		}
	}
	return catalog, nil
}

// CheckHealth waits for the health endpoint at addr to report SERVING.
func CheckHealth(ctx context.Context, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("health address is required")
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceHealthCheck, func(ctx context.Context) error {
		conn, err := platformgrpc.Dial(addr)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(ctx, timeouts.HealthDial)
		defer cancel()
		return platformgrpc.WaitForHealth(ctx, conn, "", nil)
	})
}
