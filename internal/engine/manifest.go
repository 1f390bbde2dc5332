package engine

import (
	"os"
	"sort"
)

// MaxManifestEntries caps the names reported for an extraction.
const MaxManifestEntries = 200

// listTopLevel returns the sorted names directly under dir, at most
// MaxManifestEntries of them. On a read failure the list is empty, not nil.
func listTopLevel(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) > MaxManifestEntries {
		names = names[:MaxManifestEntries]
	}
	return names, nil
}
