package runner

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/abates/network-lab-runner/fixture"
	"github.com/abates/network-lab-runner/sqlstore"
)

// --- ParseConfig ---

func TestParseConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("LAB_FIXTURES_DRIVER", "postgres")
	t.Setenv("LAB_FIXTURES_DSN", "postgres://lab@db/lab")
	t.Setenv("LAB_FIXTURES_DYNAMO_SHARDS", "8")
	t.Setenv("LAB_FIXTURES_DYNAMO_NATURAL_KEY_TABLE", "lab1_keys")

	fs := flag.NewFlagSet("labfixtures", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-path", "s3://lab/fixtures", "-timeout", "30s", "reap", "1100_locations.json"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	if cfg.Driver != "postgres" {
		t.Errorf("expected driver postgres, got %q", cfg.Driver)
	}
	if cfg.DSN != "postgres://lab@db/lab" {
		t.Errorf("expected dsn from env, got %q", cfg.DSN)
	}
	if cfg.Path != "s3://lab/fixtures" {
		t.Errorf("expected path from flag, got %q", cfg.Path)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.Command != "reap" || cfg.File != "1100_locations.json" {
		t.Errorf("expected reap 1100_locations.json, got %q %q", cfg.Command, cfg.File)
	}
	if cfg.Dynamo.NumShards != 8 {
		t.Errorf("expected 8 shards, got %d", cfg.Dynamo.NumShards)
	}
	if cfg.Dynamo.NaturalKeyTable != "lab1_keys" {
		t.Errorf("expected natural key table from env, got %q", cfg.Dynamo.NaturalKeyTable)
	}
	if cfg.Dynamo.RelationshipTable != "lab_fixture_relationships" {
		t.Errorf("expected default relationship table, got %q", cfg.Dynamo.RelationshipTable)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("labfixtures", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"restore"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Driver != "sqlite" || cfg.DSN != "lab.db" || cfg.Path != "fixtures" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Timeout != 10*time.Minute {
		t.Errorf("expected timeout 10m, got %v", cfg.Timeout)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		usage bool
	}{
		{"no command", nil, true},
		{"unknown command", []string{"seed"}, true},
		{"reap without file", []string{"reap"}, true},
		{"load with extra args", []string{"load", "a.json", "b.json"}, true},
		{"list with file", []string{"list", "a.json"}, true},
		{"unknown driver", []string{"-driver", "mysql", "dump"}, false},
		{"zero timeout", []string{"-timeout", "0s", "dump"}, false},
		{"unknown flag", []string{"-nope", "dump"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("labfixtures", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			_, err := ParseConfig(fs, tt.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrUsage) != tt.usage {
				t.Errorf("expected usage error %v, got %v", tt.usage, err)
			}
		})
	}
}

// --- Run ---

const schema = `-- +migrate Up
CREATE TABLE tenancy_tenant (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE dcim_locationtype (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    parent_id INTEGER REFERENCES dcim_locationtype(id) ON DELETE CASCADE
);
CREATE TABLE dcim_location (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    parent_id INTEGER REFERENCES dcim_location(id),
    location_type_id INTEGER NOT NULL REFERENCES dcim_locationtype(id),
    tenant_id INTEGER REFERENCES tenancy_tenant(id)
);
CREATE TABLE extras_secret (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    provider TEXT NOT NULL,
    parameters TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE extras_secretsgroup (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);
CREATE TABLE extras_secretsgroupassociation (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    secrets_group_id INTEGER NOT NULL REFERENCES extras_secretsgroup(id),
    secret_id INTEGER NOT NULL REFERENCES extras_secret(id),
    access_type TEXT NOT NULL,
    secret_type TEXT NOT NULL
);
`

type testEnv struct {
	cfg      Config
	fixtures string
	metrics  string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	migrations := filepath.Join(root, "migrations")
	fixtures := filepath.Join(root, "fixtures")
	for _, dir := range []string{migrations, fixtures} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(t, filepath.Join(migrations, "0001_schema.sql"), []byte(schema))

	metrics := filepath.Join(root, "lab_fixtures.prom")
	return testEnv{
		cfg: Config{
			Driver:      "sqlite",
			DSN:         filepath.Join(root, "lab.db"),
			Path:        fixtures,
			Migrations:  migrations,
			MetricsFile: metrics,
			Timeout:     time.Minute,
		},
		fixtures: fixtures,
		metrics:  metrics,
	}
}

func (e testEnv) run(t *testing.T, command, file string) string {
	t.Helper()
	cfg := e.cfg
	cfg.Command, cfg.File = command, file
	var out, errOut strings.Builder
	if err := Run(context.Background(), cfg, &out, &errOut); err != nil {
		t.Fatalf("%s: %v\n%s", command, err, errOut.String())
	}
	return out.String()
}

func (e testEnv) count(t *testing.T, table string) int {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), "sqlite", e.cfg.DSN, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func rec(model string, fields map[string]string) fixture.Record {
	r := fixture.Record{Model: model, Fields: make(map[string]jsontext.Value, len(fields))}
	for k, v := range fields {
		r.Fields[k] = jsontext.Value(v)
	}
	return r
}

func locations(t *testing.T) []byte {
	t.Helper()
	data, err := fixture.Marshal(fixture.Document{
		rec("tenancy.tenant", map[string]string{"name": `"Lab"`, "description": `""`}),
		rec("dcim.locationtype", map[string]string{"name": `"Site"`, "parent_id": `null`}),
		rec("dcim.locationtype", map[string]string{"name": `"Rack"`, "parent_id": `["Site"]`}),
		rec("dcim.location", map[string]string{"name": `"Site A"`, "parent_id": `null`, "location_type_id": `["Site"]`, "tenant_id": `["Lab"]`}),
		rec("dcim.location", map[string]string{"name": `"Rack 1"`, "parent_id": `["Site A",null]`, "location_type_id": `["Rack"]`, "tenant_id": `null`}),
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRun_RestoreThenDump(t *testing.T) {
	env := newTestEnv(t)
	want := locations(t)
	writeFile(t, filepath.Join(env.fixtures, "1100_locations.json"), want)

	env.run(t, "restore", "")
	env.run(t, "restore", "")
	if n := env.count(t, "dcim_location"); n != 2 {
		t.Fatalf("expected 2 locations after restore, got %d", n)
	}
	if m := readFile(t, env.metrics); !strings.Contains(m, `lab_fixtures_records_loaded_total{collection="dcim.location"} 2`) {
		t.Errorf("expected loaded count in metrics, got:\n%s", m)
	}

	env.cfg.Path = t.TempDir()
	env.run(t, "dump", "")

	if got := readFile(t, filepath.Join(env.cfg.Path, "1100_locations.json")); got != string(want) {
		t.Errorf("expected dump to match restored fixture:\n%s\n---\n%s", want, got)
	}
	if got := readFile(t, filepath.Join(env.cfg.Path, "1000_secrets.json")); got != "[]\n" {
		t.Errorf("expected empty secrets fixture, got %q", got)
	}
	if m := readFile(t, env.metrics); !strings.Contains(m, `lab_fixtures_last_run_success{command="dump"} 1`) {
		t.Errorf("expected dump success in metrics, got:\n%s", m)
	}
}

func TestRun_ReapAndLoad(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.fixtures, "1100_locations.json"), locations(t))

	env.run(t, "load", "1100_locations.json")
	if n := env.count(t, "dcim_location"); n != 2 {
		t.Fatalf("expected 2 locations after load, got %d", n)
	}

	env.run(t, "reap", "1100_locations.json")
	for _, table := range []string{"tenancy_tenant", "dcim_locationtype", "dcim_location"} {
		if n := env.count(t, table); n != 0 {
			t.Errorf("%s: expected empty after reap, got %d rows", table, n)
		}
	}
}

func TestRun_List(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"1100_locations.json", "1000_secrets.json", "README.md"} {
		writeFile(t, filepath.Join(env.fixtures, name), []byte("[]\n"))
	}

	got := env.run(t, "list", "")
	if got != "1000_secrets.json\n1100_locations.json\n" {
		t.Errorf("expected fixtures in load order, got %q", got)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config, fixtures string)
	}{
		{"missing catalog", func(cfg *Config, _ string) { cfg.Catalog = filepath.Join(cfg.Path, "missing.json") }},
		{"missing file", func(cfg *Config, _ string) { cfg.Command, cfg.File = "load", "9999_missing.json" }},
		{"malformed document", func(cfg *Config, fixtures string) {
			os.WriteFile(filepath.Join(fixtures, "1000_bad.json"), []byte(`{"model": "x"}`), 0o644)
			cfg.Command = "restore"
		}},
		{"unknown model", func(cfg *Config, fixtures string) {
			os.WriteFile(filepath.Join(fixtures, "1000_bad.json"), []byte(`[{"model": "app.missing", "fields": {}}]`), 0o644)
			cfg.Command, cfg.File = "load", "1000_bad.json"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			cfg := env.cfg
			cfg.Command = "dump"
			tt.mutate(&cfg, env.fixtures)

			var errOut strings.Builder
			if err := Run(context.Background(), cfg, nil, &errOut); err == nil {
				t.Fatal("expected error")
			}
			if m := readFile(t, env.metrics); !strings.Contains(m, "lab_fixtures_last_run_success") {
				t.Errorf("expected run recorded in metrics, got:\n%s", m)
			}
		})
	}
}
