package boards

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Database holds the contents of a boards.txt file: flat dotted keys
// mapped to string values, e.g. "uno.build.mcu" -> "atmega328p".
type Database struct {
	entries map[string]string
}

// Parse reads a boards.txt stream. Lines are KEY=VALUE records with
// dotted keys; '#' starts a comment; blank lines are skipped. A key
// that appears twice keeps the later value.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{entries: make(map[string]string)}
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("boards.txt line %d: not a KEY=VALUE record: %q", lineno, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("boards.txt line %d: empty key", lineno)
		}
		db.entries[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read boards.txt: %w", err)
	}
	return db, nil
}

// ParseFile parses the boards.txt at the given path.
func ParseFile(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board database: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Tag is a board identifier together with its human-readable name.
type Tag struct {
	ID   string
	Name string
}

// Tags returns all board tags in the database, sorted by ID. A board
// is any tag that carries a "name" key.
func (db *Database) Tags() []Tag {
	var tags []Tag
	for key, value := range db.entries {
		tag, rest, ok := strings.Cut(key, ".")
		if ok && rest == "name" {
			tags = append(tags, Tag{ID: tag, Name: value})
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })
	return tags
}

// Subs returns the CPU submenu variants defined for a board tag,
// sorted. Empty for boards without a cpu menu.
func (db *Database) Subs(tag string) []string {
	prefix := tag + ".menu.cpu."
	seen := make(map[string]bool)
	var subs []string
	for key := range db.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		sub, _, _ := strings.Cut(key[len(prefix):], ".")
		if sub != "" && !seen[sub] {
			seen[sub] = true
			subs = append(subs, sub)
		}
	}
	sort.Strings(subs)
	return subs
}

// Board is the parameter view for one board tag, with an optional CPU
// submenu variant merged over the base values.
type Board struct {
	Tag    string
	Sub    string
	params map[string]string
}

// Lookup resolves a board tag (and optional submenu variant) into its
// merged parameter set. Submenu values override the board's base
// values, matching the way the IDE's menu selection applies them.
func (db *Database) Lookup(tag, sub string) (*Board, error) {
	base := tag + "."
	b := &Board{Tag: tag, Sub: sub, params: make(map[string]string)}
	for key, value := range db.entries {
		if strings.HasPrefix(key, base) && !strings.HasPrefix(key, base+"menu.") {
			b.params[key[len(base):]] = value
		}
	}
	if len(b.params) == 0 {
		return nil, fmt.Errorf("unknown board tag %q (run `avrmake boards` for the list)", tag)
	}
	if sub != "" {
		overlay := base + "menu.cpu." + sub + "."
		n := 0
		for key, value := range db.entries {
			if strings.HasPrefix(key, overlay) {
				b.params[key[len(overlay):]] = value
				n++
			}
		}
		if n == 0 {
			subs := db.Subs(tag)
			if len(subs) == 0 {
				return nil, fmt.Errorf("board %q has no cpu variants, but BOARD_SUB=%q was given", tag, sub)
			}
			return nil, fmt.Errorf("board %q has no cpu variant %q (available: %s)",
				tag, sub, strings.Join(subs, ", "))
		}
	} else if subs := db.Subs(tag); len(subs) > 0 {
		return nil, fmt.Errorf("board %q needs a cpu variant (BOARD_SUB), one of: %s",
			tag, strings.Join(subs, ", "))
	}
	return b, nil
}

// Name returns the board's display name, falling back to the tag.
func (b *Board) Name() string {
	if name, ok := b.params["name"]; ok {
		return name
	}
	return b.Tag
}

// Get returns a board parameter by its key relative to the tag,
// e.g. Get("build.mcu").
func (b *Board) Get(key string) (string, bool) {
	value, ok := b.params[key]
	return value, ok
}

// GetDefault returns a board parameter or a fallback value.
func (b *Board) GetDefault(key, fallback string) string {
	if value, ok := b.params[key]; ok {
		return value
	}
	return fallback
}

// Require returns a board parameter or an error naming the missing
// key in full boards.txt form, e.g. "uno.build.mcu".
func (b *Board) Require(key string) (string, error) {
	if value, ok := b.params[key]; ok && value != "" {
		return value, nil
	}
	full := b.Tag + "." + key
	if b.Sub != "" {
		full = b.Tag + "(" + b.Sub + ")." + key
	}
	return "", fmt.Errorf("board database has no value for %s", full)
}

// Flag reports whether a board parameter is set to "true".
func (b *Board) Flag(key string) bool {
	return b.params[key] == "true"
}
