package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// BashArgs are the arguments of the bash tool.
type BashArgs struct {
	Command     string `json:"command" validate:"required" jsonschema_description:"The command to execute"`
	Description string `json:"description" validate:"required" jsonschema_description:"Brief description of what this command does in 5-10 words"`
	TimeoutMs   int    `json:"timeout_ms,omitempty" validate:"gte=0" jsonschema_description:"Optional timeout in milliseconds; defaults to the configured command timeout"`
}

// ReadFileArgs are the arguments of the read_file tool.
type ReadFileArgs struct {
	Path        string `json:"path" validate:"required" jsonschema_description:"The file path to read, relative to the working directory"`
	Description string `json:"description" validate:"required" jsonschema_description:"Brief description of why you're reading this file"`
}

// WriteFileArgs are the arguments of the write_file tool.
type WriteFileArgs struct {
	Path        string `json:"path" validate:"required" jsonschema_description:"The file path to write to, relative to the working directory"`
	Content     string `json:"content" jsonschema_description:"The content to write to the file"`
	Description string `json:"description" validate:"required" jsonschema_description:"Brief description of why you're writing to this file"`
}

// Edit is one exact-match replacement.
type Edit struct {
	Target      string `json:"target" validate:"required" jsonschema_description:"The exact text to replace; must occur exactly once"`
	Replacement string `json:"replacement" jsonschema_description:"The text to replace it with"`
}

// StrReplaceFileArgs are the arguments of the str_replace_file tool.
type StrReplaceFileArgs struct {
	Path        string `json:"path" validate:"required" jsonschema_description:"The file path to operate on"`
	Edits       []Edit `json:"edits" validate:"required,min=1,dive" jsonschema_description:"Ordered list of edits, each with a target and its replacement"`
	Description string `json:"description" validate:"required" jsonschema_description:"Brief description of why you're changing this file"`
}

// FetchURLArgs are the arguments of the fetch_url tool.
type FetchURLArgs struct {
	URL         string `json:"url" validate:"required,url" jsonschema_description:"The http or https URL to fetch"`
	Description string `json:"description" validate:"required" jsonschema_description:"Brief description of what you want from this URL"`
}

// RegisterBuiltinTools registers bash, read_file, write_file,
// str_replace_file and fetch_url on reg. A nil fetcher gets the default.
func RegisterBuiltinTools(reg *ToolRegistry, fetcher *Fetcher) error {
	if fetcher == nil {
		fetcher = NewFetcher(0)
	}
	tools := []RegisteredTool{
		NewTool("bash", "Execute a shell command in the current working directory. Combined stdout and stderr are returned, with the exit code when non-zero.", runBash),
		NewTool("read_file", "Read the contents of a text file inside the working directory.", runReadFile),
		NewTool("write_file", "Write content to a file, creating parent directories as needed. Overwrites existing files.", runWriteFile),
		NewTool("str_replace_file", "Apply ordered exact-match replacements to a file. Each target must occur exactly once; if any edit fails the file is left unchanged.", runStrReplaceFile),
		NewTool("fetch_url", "Fetch a URL and return its content as markdown (HTML) or plain text.", func(ctx context.Context, args FetchURLArgs, _ ExecutionEnvironment) (string, error) {
			return fetcher.Fetch(ctx, args.URL)
		}),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func runBash(ctx context.Context, args BashArgs, env ExecutionEnvironment) (string, error) {
	timeout := time.Duration(args.TimeoutMs) * time.Millisecond
	res, err := env.ExecCommand(ctx, args.Command, timeout)
	if err != nil {
		return "", err
	}

	out := strings.TrimRight(res.Output, "\n")
	if strings.TrimSpace(out) == "" {
		out = "(empty output)"
	}
	switch {
	case res.TimedOut:
		out += fmt.Sprintf("\n[Command timed out after %s]", res.Duration.Round(time.Millisecond))
	case res.ExitCode != 0:
		out += fmt.Sprintf("\n[Exit code: %d]", res.ExitCode)
	}
	return out, nil
}

func runReadFile(_ context.Context, args ReadFileArgs, env ExecutionEnvironment) (string, error) {
	return env.ReadFile(args.Path)
}

func runWriteFile(_ context.Context, args WriteFileArgs, env ExecutionEnvironment) (string, error) {
	if err := env.WriteFile(args.Path, args.Content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(args.Content), args.Path), nil
}

func runStrReplaceFile(_ context.Context, args StrReplaceFileArgs, env ExecutionEnvironment) (string, error) {
	content, err := env.ReadFile(args.Path)
	if err != nil {
		return "", err
	}
	updated, err := applyEdits(content, args.Edits)
	if err != nil {
		return "", err
	}
	if err := env.WriteFile(args.Path, updated); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully applied %d edit(s) to %s", len(args.Edits), args.Path), nil
}

// applyEdits applies edits in order to an in-memory copy. Each target must
// match exactly once in the text as left by the previous edits.
func applyEdits(content string, edits []Edit) (string, error) {
	for i, e := range edits {
		switch n := strings.Count(content, e.Target); n {
		case 1:
			content = strings.Replace(content, e.Target, e.Replacement, 1)
		case 0:
			return "", fmt.Errorf("edit %d: target not found", i+1)
		default:
			return "", fmt.Errorf("edit %d: target matches %d times", i+1, n)
		}
	}
	return content, nil
}
