// Package linkset provides set operations over link files: loading, duplicate
// removal, and pairwise comparison. File access goes through afero so callers
// can run against an in-memory filesystem.
package linkset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

// Diff is the result of comparing two link files. Slices are sorted and hold
// canonical addresses.
type Diff struct {
	OnlyFirst  []string
	OnlySecond []string
	Both       []string
}

// Load reads a file and extracts every link reference it contains, in order
// of appearance and with duplicates removed.
func Load(fsys afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read link file %s: %w", path, err)
	}
	return Dedupe(check.ExtractLinks(string(data))), nil
}

// Dedupe removes duplicate links while preserving first-seen order.
func Dedupe(links []string) []string {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

// Compare loads both files and partitions their links into exclusive and
// shared sets.
func Compare(fsys afero.Fs, pathA, pathB string) (Diff, error) {
	first, err := Load(fsys, pathA)
	if err != nil {
		return Diff{}, err
	}
	second, err := Load(fsys, pathB)
	if err != nil {
		return Diff{}, err
	}

	inFirst := toSet(first)
	inSecond := toSet(second)

	var diff Diff
	for link := range inFirst {
		if _, ok := inSecond[link]; ok {
			diff.Both = append(diff.Both, link)
		} else {
			diff.OnlyFirst = append(diff.OnlyFirst, link)
		}
	}
	for link := range inSecond {
		if _, ok := inFirst[link]; !ok {
			diff.OnlySecond = append(diff.OnlySecond, link)
		}
	}
	sort.Strings(diff.OnlyFirst)
	sort.Strings(diff.OnlySecond)
	sort.Strings(diff.Both)
	return diff, nil
}

// Filter returns links with every member of remove taken out, preserving the
// original order.
func Filter(links, remove []string) []string {
	if len(links) == 0 {
		return nil
	}
	drop := toSet(remove)
	out := make([]string, 0, len(links))
	for _, link := range links {
		if _, ok := drop[link]; ok {
			continue
		}
		out = append(out, link)
	}
	return out
}

// Write saves links to a file, one per line.
func Write(fsys afero.Fs, path string, links []string) error {
	content := strings.Join(links, "\n")
	if content != "" {
		content += "\n"
	}
	if err := afero.WriteFile(fsys, path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write link file %s: %w", path, err)
	}
	return nil
}

func toSet(links []string) map[string]struct{} {
	set := make(map[string]struct{}, len(links))
	for _, link := range links {
		set[link] = struct{}{}
	}
	return set
}
