// Package skills discovers SKILL.md files and renders them into the
// system prompt. Each immediate subdirectory of the skills directory holds
// at most one skill.
package skills

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the descriptor file looked up in each skill directory.
const FileName = "SKILL.md"

// Metadata holds parsed SKILL.md frontmatter.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Skill is one loaded skill.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"` // SKILL.md body, frontmatter stripped
	Path        string `json:"path"`
}

// Load reads <dir>/<sub>/SKILL.md for every subdirectory, in lexical
// order. A missing directory yields no skills and no error; entries that
// cannot be read or parsed are logged and skipped.
func Load(dir string) ([]Skill, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("skills directory does not exist", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read skills directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var skills []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), FileName)
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Warn("skipping skill", "path", path, "error", err)
			}
			continue
		}
		skill, err := Parse(string(data))
		if err != nil {
			slog.Warn("skipping skill", "path", path, "error", err)
			continue
		}
		if skill.Name == "" {
			skill.Name = e.Name()
		}
		skill.Path = path
		skills = append(skills, skill)
	}
	slog.Debug("skills loaded", "dir", dir, "count", len(skills))
	return skills, nil
}

var frontmatterRe = regexp.MustCompile(`(?s)^---\r?\n(.*?)\r?\n---\r?\n?`)

// Parse reads a SKILL.md document. Name and description come from YAML
// frontmatter when present; otherwise the first "# " heading is the name
// and the first "## " heading the description.
func Parse(content string) (Skill, error) {
	var s Skill
	body := content
	if m := frontmatterRe.FindStringSubmatch(content); m != nil {
		var meta Metadata
		if err := yaml.Unmarshal([]byte(m[1]), &meta); err != nil {
			return Skill{}, fmt.Errorf("parse frontmatter: %w", err)
		}
		s.Name = strings.TrimSpace(meta.Name)
		s.Description = strings.TrimSpace(meta.Description)
		body = content[len(m[0]):]
	}
	s.Content = strings.TrimSpace(body)

	for _, line := range strings.Split(body, "\n") {
		if s.Name != "" && s.Description != "" {
			break
		}
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "# ") && s.Name == "":
			s.Name = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "## ") && s.Description == "":
			s.Description = strings.TrimSpace(line[3:])
		}
	}
	return s, nil
}

const (
	promptIntro = "You are Gem Code CLI, with the following professional skills:"
	promptUsage = "Usage: when a request relates to one of these skills, follow the guidance in its SKILL.md content. Do not announce which skill you are using."
)

// FormatForPrompt renders skills as a system prompt block. It returns ""
// when there are no skills.
func FormatForPrompt(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	sections := make([]string, len(skills))
	for i, s := range skills {
		sections[i] = fmt.Sprintf("\n## %s\n%s\nDetails:\n%s\n", s.Name, s.Description, s.Content)
	}
	return promptIntro + "\n" + strings.Join(sections, "\n-----\n") + "\n" + promptUsage
}
