package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Output   string        `json:"output"` // combined stdout and stderr
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// ExecutionEnvironment abstracts where tool operations run. Every path is
// resolved through the sandbox before it is touched.
type ExecutionEnvironment interface {
	ResolvePath(path string) (string, error)
	ReadFile(path string) (string, error)
	WriteFile(path string, content string) error

	// ExecCommand runs command through the shell in the working directory.
	// A zero timeout uses the environment default.
	ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)

	WorkingDirectory() string
	Platform() string
	OSVersion() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that should be excluded by default.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	if upper == "OPENAI_BASE_URL" {
		return true
	}
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns environ minus variables that look like secrets.
func filterEnvironment(environ []string) []string {
	var filtered []string
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// LocalExecutionEnvironment runs tools on the local machine inside a
// Sandbox.
type LocalExecutionEnvironment struct {
	sandbox        *Sandbox
	commandTimeout time.Duration
	platform       string
	osVersion      string
}

// NewLocalExecutionEnvironment creates a local environment rooted at the
// sandbox. commandTimeout bounds each bash invocation; zero means two
// minutes.
func NewLocalExecutionEnvironment(sandbox *Sandbox, commandTimeout time.Duration) *LocalExecutionEnvironment {
	if commandTimeout <= 0 {
		commandTimeout = 2 * time.Minute
	}
	return &LocalExecutionEnvironment{
		sandbox:        sandbox,
		commandTimeout: commandTimeout,
		platform:       runtime.GOOS,
		osVersion:      runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (e *LocalExecutionEnvironment) WorkingDirectory() string {
	return e.sandbox.Root()
}

func (e *LocalExecutionEnvironment) Platform() string {
	return e.platform
}

func (e *LocalExecutionEnvironment) OSVersion() string {
	return e.osVersion
}

func (e *LocalExecutionEnvironment) ResolvePath(path string) (string, error) {
	return e.sandbox.Resolve(path)
}

func (e *LocalExecutionEnvironment) ReadFile(path string) (string, error) {
	resolved, err := e.sandbox.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content atomically: a temp file in the target directory
// is renamed over the destination. An existing file keeps its mode.
func (e *LocalExecutionEnvironment) WriteFile(path string, content string) error {
	resolved, err := e.sandbox.Resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(resolved); err == nil {
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(resolved)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, resolved)
}

// ExecCommand runs command with /bin/bash -c in its own process group so
// that a timeout or cancellation kills every child it spawned.
func (e *LocalExecutionEnvironment) ExecCommand(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = e.commandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Dir = e.sandbox.Root()
	cmd.Env = filterEnvironment(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
		case ctx.Err() != nil:
			return result, ctx.Err()
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("exec command: %w", err)
		}
	}
	return result, nil
}
