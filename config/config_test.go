package config

import (
	"os"
	"testing"
)

type testConfig struct {
	Name string `env:"RPCMUX_TEST_NAME" envDefault:"default-name"`
	Port int    `env:"RPCMUX_TEST_PORT" envDefault:"1234"`
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load[testConfig]()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "default-name" {
		t.Errorf("expected default-name, got %s", cfg.Name)
	}
	if cfg.Port != 1234 {
		t.Errorf("expected 1234, got %d", cfg.Port)
	}
}

type testConfig2 struct {
	Value string `env:"RPCMUX_TEST_VALUE" envDefault:"unset"`
}

func TestLoadReadsEnvironment(t *testing.T) {
	os.Setenv("RPCMUX_TEST_VALUE", "from-env")
	defer os.Unsetenv("RPCMUX_TEST_VALUE")

	cfg, err := Load[testConfig2]()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Value != "from-env" {
		t.Errorf("expected from-env, got %s", cfg.Value)
	}
}

func TestLoadCachesPerType(t *testing.T) {
	os.Setenv("RPCMUX_TEST_NAME", "first-load")
	first, err := Load[testConfig]()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	os.Setenv("RPCMUX_TEST_NAME", "second-load")
	second, err := Load[testConfig]()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	os.Unsetenv("RPCMUX_TEST_NAME")

	if first.Name != second.Name {
		t.Errorf("expected cached value to be reused, got %s then %s", first.Name, second.Name)
	}
}
