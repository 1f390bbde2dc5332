// Package archiver runs archive create, extract and list operations. SevenZip
// shells out to a 7z binary; Native does the same work in-process.
package archiver

import (
	"context"
	"fmt"
	"strings"
)

type CreateRequest struct {
	// WorkDir is the folder whose contents are archived; entries are stored
	// relative to it.
	WorkDir   string
	Output    string
	Format    Format
	Password  string
	Recursive bool
}

type ExtractRequest struct {
	Archive  string
	Dest     string
	Password string
}

// Archiver is the boundary to the external archive tool. Create and Extract
// fail with COMPRESSION_FAILED and EXTRACTION_FAILED respectively; List
// returns entry names exactly as the archive stores them.
type Archiver interface {
	Name() string
	Create(ctx context.Context, req CreateRequest) error
	Extract(ctx context.Context, req ExtractRequest) error
	List(ctx context.Context, archive, password string) ([]string, error)
}

const (
	BackendSevenZip = "7z"
	BackendNative   = "native"
)

// NormalizeBackend maps configuration values onto a backend name.
func NormalizeBackend(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", BackendSevenZip, "7za", "7zz", "sevenzip":
		return BackendSevenZip, nil
	case BackendNative, "go":
		return BackendNative, nil
	default:
		return "", fmt.Errorf("unknown archiver backend %q", raw)
	}
}
