package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.MaxCallDepth != 64 {
		t.Errorf("MaxCallDepth = %d, want 64", cfg.MaxCallDepth)
	}
	if cfg.StressGC || cfg.ReportGC || cfg.NoColor {
		t.Error("default flags should be off")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kuroko.toml")
	content := "module-paths = [\"lib\", \"vendor\"]\n" +
		"max-call-depth = 128\n" +
		"stress-gc = true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.ModulePaths) != 2 || cfg.ModulePaths[0] != "lib" {
		t.Errorf("ModulePaths = %v", cfg.ModulePaths)
	}
	if cfg.MaxCallDepth != 128 {
		t.Errorf("MaxCallDepth = %d", cfg.MaxCallDepth)
	}
	if !cfg.StressGC {
		t.Error("stress-gc not decoded")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "kuroko.toml"), []byte("max-call-depth = 99\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxCallDepth != 99 {
		t.Errorf("config not found from nested dir: depth = %d", cfg.MaxCallDepth)
	}
}

func TestFindAndLoadFallsBackToDefault(t *testing.T) {
	cfg, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxCallDepth != 64 {
		t.Error("missing config should yield defaults")
	}
}

func TestLoadInvalidDepthNormalized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kuroko.toml")
	if err := os.WriteFile(path, []byte("max-call-depth = -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxCallDepth != 64 {
		t.Errorf("negative depth should normalize to 64, got %d", cfg.MaxCallDepth)
	}
}
