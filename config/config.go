// Package config resolves gemcode's settings from the environment once at
// startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// ErrMissingSetting is returned when a required variable is unset or empty.
var ErrMissingSetting = errors.New("missing required setting")

// Backend names accepted by GEMCODE_LLM_BACKEND.
const (
	BackendOpenAI = "openai"
	BackendGollm  = "gollm"
)

// Config holds process-wide settings. It is read-only after Load.
type Config struct {
	APIKey    string `env:"OPENAI_API_KEY,required,notEmpty"`
	BaseURL   string `env:"OPENAI_BASE_URL,required,notEmpty" validate:"url"`
	Model     string `env:"OPENAI_MODEL" envDefault:"MiniMax-M2.5" validate:"required"`
	Workdir   string `env:"WORKDIR"`
	SkillsDir string `env:"SKILLS_DIR"`

	MaxTokens      int           `env:"GEMCODE_MAX_TOKENS" validate:"gte=0"`
	MaxToolRounds  int           `env:"GEMCODE_MAX_TOOL_ROUNDS" validate:"gte=0"`
	CommandTimeout time.Duration `env:"GEMCODE_COMMAND_TIMEOUT" envDefault:"2m" validate:"gt=0"`
	FetchTimeout   time.Duration `env:"GEMCODE_FETCH_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	Backend        string        `env:"GEMCODE_LLM_BACKEND" envDefault:"openai" validate:"oneof=openai gollm"`
	LogFile        string        `env:"GEMCODE_LOG_FILE"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFromEnvironment(nil)
}

// LoadFromEnvironment reads the configuration from vars, or from the
// process environment when vars is nil. WORKDIR defaults to the current
// directory and is canonicalized.
func LoadFromEnvironment(vars map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{Environment: vars}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		if missing := missingKeys(err); len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
		}
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	workdir, err := canonicalDir(cfg.Workdir)
	if err != nil {
		return nil, fmt.Errorf("WORKDIR: %w", err)
	}
	cfg.Workdir = workdir

	if cfg.SkillsDir != "" {
		abs, err := filepath.Abs(cfg.SkillsDir)
		if err != nil {
			return nil, fmt.Errorf("SKILLS_DIR: %w", err)
		}
		cfg.SkillsDir = abs
	}
	return &cfg, nil
}

func missingKeys(err error) []string {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return nil
	}
	var keys []string
	for _, e := range agg.Errors {
		switch v := e.(type) {
		case env.VarIsNotSetError:
			keys = append(keys, v.Key)
		case env.EmptyVarError:
			keys = append(keys, v.Key)
		}
	}
	return keys
}

func canonicalDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}
