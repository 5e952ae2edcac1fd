package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func baseEnv(t *testing.T) map[string]string {
	return map[string]string{
		"OPENAI_API_KEY":  "sk-test",
		"OPENAI_BASE_URL": "https://api.example.com/v1",
		"WORKDIR":         t.TempDir(),
	}
}

func TestLoadDefaults(t *testing.T) {
	vars := baseEnv(t)
	cfg, err := LoadFromEnvironment(vars)
	if err != nil {
		t.Fatalf("LoadFromEnvironment: %v", err)
	}
	if cfg.Model != "MiniMax-M2.5" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.CommandTimeout != 2*time.Minute || cfg.FetchTimeout != 30*time.Second {
		t.Errorf("timeouts = %v, %v", cfg.CommandTimeout, cfg.FetchTimeout)
	}
	if cfg.Backend != BackendOpenAI {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.MaxTokens != 0 || cfg.MaxToolRounds != 0 || cfg.SkillsDir != "" {
		t.Errorf("unexpected optional values: %+v", cfg)
	}
	want, _ := filepath.EvalSymlinks(vars["WORKDIR"])
	if cfg.Workdir != want {
		t.Errorf("Workdir = %q, want %q", cfg.Workdir, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	vars := baseEnv(t)
	vars["OPENAI_MODEL"] = "gpt-4o-mini"
	vars["GEMCODE_MAX_TOKENS"] = "2048"
	vars["GEMCODE_MAX_TOOL_ROUNDS"] = "8"
	vars["GEMCODE_COMMAND_TIMEOUT"] = "45s"
	vars["GEMCODE_LLM_BACKEND"] = "gollm"
	vars["SKILLS_DIR"] = "skills"

	cfg, err := LoadFromEnvironment(vars)
	if err != nil {
		t.Fatalf("LoadFromEnvironment: %v", err)
	}
	if cfg.Model != "gpt-4o-mini" || cfg.MaxTokens != 2048 || cfg.MaxToolRounds != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.CommandTimeout != 45*time.Second || cfg.Backend != BackendGollm {
		t.Errorf("cfg = %+v", cfg)
	}
	if !filepath.IsAbs(cfg.SkillsDir) {
		t.Errorf("SkillsDir not absolute: %q", cfg.SkillsDir)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		empty   string
		wantKey string
	}{
		{name: "no api key", drop: "OPENAI_API_KEY", wantKey: "OPENAI_API_KEY"},
		{name: "no base url", drop: "OPENAI_BASE_URL", wantKey: "OPENAI_BASE_URL"},
		{name: "empty api key", empty: "OPENAI_API_KEY", wantKey: "OPENAI_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := baseEnv(t)
			if tt.drop != "" {
				delete(vars, tt.drop)
			}
			if tt.empty != "" {
				vars[tt.empty] = ""
			}
			_, err := LoadFromEnvironment(vars)
			if !errors.Is(err, ErrMissingSetting) {
				t.Fatalf("error = %v, want ErrMissingSetting", err)
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("error %q does not name %s", err, tt.wantKey)
			}
		})
	}
}

func TestLoadInvalid(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad backend", key: "GEMCODE_LLM_BACKEND", val: "anthropic"},
		{name: "bad duration", key: "GEMCODE_COMMAND_TIMEOUT", val: "soon"},
		{name: "negative rounds", key: "GEMCODE_MAX_TOOL_ROUNDS", val: "-1"},
		{name: "missing workdir", key: "WORKDIR", val: filepath.Join(t.TempDir(), "nope")},
		{name: "workdir is a file", key: "WORKDIR", val: file},
		{name: "base url not a url", key: "OPENAI_BASE_URL", val: "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := baseEnv(t)
			vars[tt.key] = tt.val
			if _, err := LoadFromEnvironment(vars); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}
