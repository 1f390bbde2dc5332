package engine

import (
	"context"
	"strings"

	"github.com/mblsha/zipforge/internal/archiver"
)

type LayoutKind string

const (
	// LayoutSingle: every entry shares one first path segment.
	LayoutSingle LayoutKind = "single"
	LayoutMixed  LayoutKind = "mixed"
	LayoutEmpty  LayoutKind = "empty"
	// LayoutUnknown means the listing could not be produced. The planner
	// treats it like LayoutMixed.
	LayoutUnknown LayoutKind = "unknown"
	// LayoutSkipped marks a request whose destination override made
	// inspection unnecessary.
	LayoutSkipped LayoutKind = "skipped"
)

// Layout summarizes an archive's top-level shape. Root is set only for
// LayoutSingle.
type Layout struct {
	Kind LayoutKind
	Root string
	Err  error
}

// Inspect lists the archive and summarizes its first path segments. It never
// fails; listing errors yield LayoutUnknown with Err set.
func Inspect(ctx context.Context, a archiver.Archiver, archivePath, password string) Layout {
	entries, err := a.List(ctx, archivePath, password)
	if err != nil {
		return Layout{Kind: LayoutUnknown, Err: err}
	}
	return SummarizeEntries(entries)
}

// SummarizeEntries applies the single-root rule to raw entry names. Entries
// whose first segment is "." or ".." count as mixed.
func SummarizeEntries(entries []string) Layout {
	root := ""
	seen := 0
	for _, raw := range entries {
		name := normalizeEntry(raw)
		if name == "" {
			continue
		}
		first, _, _ := strings.Cut(name, "/")
		if first == "." || first == ".." {
			return Layout{Kind: LayoutMixed}
		}
		if seen > 0 && first != root {
			return Layout{Kind: LayoutMixed}
		}
		root = first
		seen++
	}
	if seen == 0 {
		return Layout{Kind: LayoutEmpty}
	}
	return Layout{Kind: LayoutSingle, Root: root}
}

func normalizeEntry(raw string) string {
	name := strings.ReplaceAll(raw, "\\", "/")
	for {
		switch {
		case strings.HasPrefix(name, "/"):
			name = name[1:]
		case strings.HasPrefix(name, "./"):
			name = name[2:]
		default:
			return name
		}
	}
}
