package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024

const basePrompt = `You are Gem Code, a lightweight command-line coding agent.

Current working directory: %s

## Tool use
You MUST act through tool calls, never by describing a command in prose.
- To inspect or change the system, call bash, e.g. bash(command="ls -la", description="List files").
- To look at a file, call read_file, e.g. read_file(path="main.go", description="Read the entry point").
- To create or overwrite a file, call write_file; for targeted changes prefer str_replace_file.
- To read documentation on the web, call fetch_url.

## Workflow
1. Call the tool you need directly, without announcing it first.
2. Base your answer on the tool results.
3. Keep answers short and to the point.

## Notes
- Commands run in the working directory above.
- Use paths relative to the working directory or full paths inside it.
- If a tool reports an error, fix the cause and try again.`

// BuildSystemPrompt assembles the system message: the base instructions,
// the environment block, any AGENTS.md project docs and the skills block.
func BuildSystemPrompt(env ExecutionEnvironment, model, skillsBlock string) string {
	workingDir := env.WorkingDirectory()

	sections := []string{
		fmt.Sprintf(basePrompt, workingDir),
		BuildEnvironmentContext(env, model),
	}
	if docs := DiscoverProjectDocs(workingDir); docs != "" {
		sections = append(sections, "<project_instructions>\n"+docs+"\n</project_instructions>")
	}
	if skillsBlock = strings.TrimSpace(skillsBlock); skillsBlock != "" {
		sections = append(sections, skillsBlock)
	}
	return strings.Join(sections, "\n\n")
}

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(env ExecutionEnvironment, model string) string {
	workingDir := env.WorkingDirectory()
	branch := gitOutput(workingDir, "rev-parse", "--abbrev-ref", "HEAD")

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", branch != "")
	if branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", env.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads every AGENTS.md between the git root (or the
// working directory outside a repository) and the working directory,
// outermost first, capped at 32KB in total.
func DiscoverProjectDocs(workingDir string) string {
	root := gitOutput(workingDir, "rev-parse", "--show-toplevel")
	if root == "" {
		root = workingDir
	}

	var docs []string
	total := 0
	for _, dir := range collectPathHierarchy(root, workingDir) {
		content, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
		if err != nil {
			continue
		}

		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, fmt.Sprintf("# AGENTS.md (from %s)\n\n%s", dir, text))
		total += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)

	dirs := []string{root}
	if root == target {
		return dirs
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return dirs
	}

	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func gitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
