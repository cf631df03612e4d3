package xenv_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"doorbus/pkg/xenv"
)

type testConf struct {
	Backend string        `env:"MBOX_BACKEND" envDefault:"memory" yaml:"backend"`
	RTO     time.Duration `env:"MBOX_RTO" envDefault:"2s" yaml:"rto"`
	TTL     int           `env:"MBOX_BASE_TTL" envDefault:"5" yaml:"base_ttl"`
	Log     struct {
		Level string `env:"LEVEL" envDefault:"debug" yaml:"level"`
	} `envPrefix:"LOG_" yaml:"log"`
}

func TestEnvLoad(t *testing.T) {
	t.Setenv("DOORBUS_MBOX_RTO", "150ms")
	t.Setenv("DOORBUS_LOG_LEVEL", "warn")

	var conf testConf
	if err := xenv.EnvLoad(&conf); err != nil {
		t.Fatal(err)
	}
	if conf.Backend != "memory" || conf.TTL != 5 {
		t.Fatalf("defaults not applied: %+v", conf)
	}
	if conf.RTO != 150*time.Millisecond {
		t.Fatalf("rto = %v", conf.RTO)
	}
	if conf.Log.Level != "warn" {
		t.Fatalf("log level = %q", conf.Log.Level)
	}
}

func TestLoadYAMLOverEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doorbus.yaml")
	data := []byte("backend: posix\nrto: 500ms\nlog:\n  level: info\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	var conf testConf
	if err := xenv.Load(path, &conf); err != nil {
		t.Fatal(err)
	}
	if conf.Backend != "posix" || conf.RTO != 500*time.Millisecond || conf.Log.Level != "info" {
		t.Fatalf("yaml not applied: %+v", conf)
	}
	if conf.TTL != 5 {
		t.Fatalf("default lost: %+v", conf)
	}
}

func TestLoadMissingFile(t *testing.T) {
	var conf testConf
	if err := xenv.Load(filepath.Join(t.TempDir(), "missing.yaml"), &conf); err == nil {
		t.Fatal("expected error for missing file")
	}
}
