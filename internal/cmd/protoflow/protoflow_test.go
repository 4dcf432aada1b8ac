package protoflow

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("protoflow", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9006" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.Store != StoreSQLite {
		t.Fatalf("expected sqlite store, got %q", cfg.Store)
	}
	if cfg.Tick != 10*time.Millisecond {
		t.Fatalf("expected 10ms tick, got %s", cfg.Tick)
	}
	if cfg.SnapshotInterval != time.Minute {
		t.Fatalf("expected 60s snapshot interval, got %s", cfg.SnapshotInterval)
	}
	if cfg.HealthCheck {
		t.Fatal("expected healthcheck off by default")
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("PROTOFLOW_HTTP_ADDR", "env-http")
	t.Setenv("PROTOFLOW_STORE", "file")
	t.Setenv("PROTOFLOW_PLUGIN_DIR", "env-plugins")
	t.Setenv("PROTOFLOW_REDIS_PASSWORD", "secret")

	fs := flag.NewFlagSet("protoflow", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag-http",
		"-tick", "50ms",
		"-healthcheck",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-http" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.Store != StoreFile {
		t.Fatalf("expected env store, got %q", cfg.Store)
	}
	if cfg.PluginDir != "env-plugins" {
		t.Fatalf("expected env plugin dir, got %q", cfg.PluginDir)
	}
	if cfg.RedisPassword != "secret" {
		t.Fatalf("expected env redis password, got %q", cfg.RedisPassword)
	}
	if cfg.Tick != 50*time.Millisecond {
		t.Fatalf("expected flag tick, got %s", cfg.Tick)
	}
	if !cfg.HealthCheck {
		t.Fatal("expected healthcheck flag")
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	for _, kind := range []string{StoreSQLite, StoreFile, " FILE "} {
		store, err := OpenStore(ctx, Config{
			Store:   kind,
			DBPath:  filepath.Join(dir, "protoflow.db"),
			DataDir: filepath.Join(dir, "data"),
		})
		if err != nil {
			t.Fatalf("open %q store: %v", kind, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close %q store: %v", kind, err)
		}
	}

	if _, err := OpenStore(ctx, Config{Store: "etcd"}); err == nil {
		t.Fatal("expected error for unknown store")
	}
}

func TestBuildCatalog(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"stretch.lua": `return { name = "StretchProtocol", on_open = function() protoflow.heading("Stretch") end }`,
		"broken.lua":  `return 1`,
		"morning.yaml": `routines:
  - name: WeekdayMorningProtocol
    display_name: Early Start
    time: "06:00"
    days: weekdays
    items: [Coffee]
`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	catalog, err := BuildCatalog(dir, nil)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	for _, name := range []string{"CaptureSystem", "CaptureProtocol", "FocusProtocol", "RoutineSystem", "WeekendNightProtocol", "StretchProtocol"} {
		if _, ok := catalog.Lookup(name); !ok {
			t.Fatalf("expected %s in catalog", name)
		}
	}
	morning, ok := catalog.Lookup("WeekdayMorningProtocol")
	if !ok {
		t.Fatal("expected morning routine in catalog")
	}
	if morning.DisplayName != "Early Start" {
		t.Fatalf("expected plugin dir routine to shadow default, got %q", morning.DisplayName)
	}
}

func TestBuildCatalogMissingDir(t *testing.T) {
	catalog, err := BuildCatalog(filepath.Join(t.TempDir(), "missing"), nil)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	// Builtins, the routine system and four default routines.
	if got := catalog.Len(); got != 8 {
		t.Fatalf("expected 8 types, got %d", got)
	}
}

func TestCheckHealthRequiresAddr(t *testing.T) {
	if err := CheckHealth(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty health addr")
	}
}
