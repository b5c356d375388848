// Package memory implements the Memory Store (spec.md §4.8): a single
// markdown file with YAML-ish frontmatter blocks per entry. Grounded in
// the write-to-temp+rename idiom used throughout
// _examples/steveyegge-vc/internal/storage for atomic file replacement.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Entry is one memory record.
type Entry struct {
	ID        string    `yaml:"id"`
	Type      string    `yaml:"type"`
	Tags      []string  `yaml:"tags,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	Body      string    `yaml:"-"`
}

// frontmatter mirrors Entry's YAML-tagged fields without Body, which is
// stored as the block's trailing plain text rather than a YAML field.
type frontmatter struct {
	ID        string    `yaml:"id"`
	Type      string    `yaml:"type"`
	Tags      []string  `yaml:"tags,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Store is the single markdown file under .ralph/agent/memories.md.
type Store struct {
	path string
}

func New(repoRoot string) *Store {
	return &Store{path: filepath.Join(repoRoot, ".ralph", "agent", "memories.md")}
}

func (s *Store) Path() string { return s.path }

// NewID generates a short ID of form mem-<unix-seconds>-<uuid-suffix>
// (spec.md §4.8), using the same record-ID generator the teacher's
// cost/events packages use for their own IDs.
func NewID(now time.Time) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate memory id suffix: %w", err)
	}
	return fmt.Sprintf("mem-%d-%s", now.Unix(), id.String()[:8]), nil
}

// Add appends a new entry and rewrites the file atomically.
func (s *Store) Add(entryType, body string, tags []string, now time.Time) (Entry, error) {
	id, err := NewID(now)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{ID: id, Type: entryType, Tags: tags, CreatedAt: now, Body: body}

	entries, err := s.List()
	if err != nil {
		return Entry{}, err
	}
	entries = append(entries, entry)
	if err := s.writeAll(entries); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns every entry in the file, tolerant of a missing file.
func (s *Store) List() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memory store: %w", err)
	}
	return parseBlocks(string(data))
}

// Filter returns entries matching entryType and/or any of tags (either
// may be empty to mean "any").
func (s *Store) Filter(entryType string, tags []string) ([]Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range entries {
		if entryType != "" && e.Type != entryType {
			continue
		}
		if len(tags) > 0 && !anyTagMatches(e.Tags, tags) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Search does a case-insensitive substring match over entry bodies
// (spec.md §4.8: "search (case-insensitive substring)").
func (s *Store) Search(query string) ([]Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(query)
	var out []Entry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Body), lower) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Delete removes the entry with the given ID.
func (s *Store) Delete(id string) error {
	entries, err := s.List()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return s.writeAll(out)
}

// Prime selects entries fitting an approximate token budget (spec.md
// §4.8: "prime (select a subset fitting a token budget)"), using a
// rough 4-bytes-per-token estimate and most-recent-first ordering.
func (s *Store) Prime(tokenBudget int) (string, error) {
	entries, err := s.List()
	if err != nil {
		return "", err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	var sb strings.Builder
	remaining := tokenBudget * 4
	for _, e := range entries {
		block := renderBlock(e)
		if tokenBudget > 0 && len(block) > remaining {
			break
		}
		sb.WriteString(block)
		remaining -= len(block)
	}
	return sb.String(), nil
}

func anyTagMatches(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func (s *Store) writeAll(entries []Entry) error {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(renderBlock(e))
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir memory dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write memory temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename memory file: %w", err)
	}
	return nil
}

func renderBlock(e Entry) string {
	fm := frontmatter{ID: e.ID, Type: e.Type, Tags: e.Tags, CreatedAt: e.CreatedAt}
	data, err := yaml.Marshal(fm)
	if err != nil {
		data = []byte("id: " + e.ID + "\n")
	}
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(data)
	sb.WriteString("---\n")
	sb.WriteString(e.Body)
	if !strings.HasSuffix(e.Body, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

// parseBlocks splits the markdown file into --- frontmatter --- + body
// blocks.
func parseBlocks(content string) ([]Entry, error) {
	var entries []Entry
	lines := strings.Split(content, "\n")
	i := 0
	for i < len(lines) {
		if strings.TrimSpace(lines[i]) != "---" {
			i++
			continue
		}
		fmStart := i + 1
		fmEnd := fmStart
		for fmEnd < len(lines) && strings.TrimSpace(lines[fmEnd]) != "---" {
			fmEnd++
		}
		if fmEnd >= len(lines) {
			break // unterminated block; stop parsing rather than fail the caller
		}
		var fm frontmatter
		if err := yaml.Unmarshal([]byte(strings.Join(lines[fmStart:fmEnd], "\n")), &fm); err != nil {
			i = fmEnd + 1
			continue
		}
		bodyStart := fmEnd + 1
		bodyEnd := bodyStart
		for bodyEnd < len(lines) && strings.TrimSpace(lines[bodyEnd]) != "---" {
			bodyEnd++
		}
		body := strings.TrimRight(strings.Join(lines[bodyStart:bodyEnd], "\n"), "\n")
		entries = append(entries, Entry{ID: fm.ID, Type: fm.Type, Tags: fm.Tags, CreatedAt: fm.CreatedAt, Body: body})
		i = bodyEnd
	}
	return entries, nil
}
