package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults valid", mutate: func(c *Config) {}},
		{name: "bad view mode", mutate: func(c *Config) { c.ViewMode = "triple" }, wantErr: "view_mode"},
		{name: "bad spacing", mutate: func(c *Config) { c.LineSpacing = "airy" }, wantErr: "line_spacing"},
		{name: "bad pagination", mutate: func(c *Config) { c.Pagination = "spiral" }, wantErr: "pagination"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantErr {
				t.Errorf("field = %q, want %q", verr.Field, tt.wantErr)
			}
		})
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.ViewMode = ViewSplit
	cfg.LineSpacing = SpacingRelaxed
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := Load()
	if loaded.ViewMode != ViewSplit || loaded.LineSpacing != SpacingRelaxed {
		t.Errorf("loaded = %+v", loaded)
	}
}

// Invalid stored values fall back to defaults field-wise.
func TestLoadRejectsInvalidFields(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	os.MkdirAll(filepath.Join(dir, "shoko"), 0o755)
	os.WriteFile(filepath.Join(dir, "shoko", "config.json"),
		[]byte(`{"view_mode":"split","line_spacing":"bogus","pagination":"dynamic"}`), 0o644)

	loaded := Load()
	if loaded.ViewMode != ViewSplit {
		t.Errorf("valid field not kept: %+v", loaded)
	}
	if loaded.LineSpacing != Default().LineSpacing {
		t.Errorf("invalid field not reset: %+v", loaded)
	}
}

func TestXDGPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_CACHE_HOME", "/custom/cache")
	if got := ConfigDir(); got != "/custom/config/shoko" {
		t.Errorf("ConfigDir = %q", got)
	}
	if got := CacheDir(); got != "/custom/cache/shoko" {
		t.Errorf("CacheDir = %q", got)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := Default()
	cfg.Pagination = "spiral"
	if err := Save(cfg); err == nil {
		t.Error("expected validation error")
	}
}
