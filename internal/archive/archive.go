// Package archive reads and writes zip and 7z containers in-process. Every
// extracted entry is checked to land inside the destination directory.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Limits struct {
	MaxFiles      int
	MaxTotalBytes int64
	MaxFileBytes  int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxFiles:      100000,
		MaxTotalBytes: 16 << 30,
		MaxFileBytes:  4 << 30,
	}
}

func (l Limits) validate() error {
	if l.MaxFiles <= 0 || l.MaxTotalBytes <= 0 || l.MaxFileBytes <= 0 {
		return errors.New("invalid extraction limits")
	}
	return nil
}

// ErrEncrypted is returned by the zip reader for entries using ZipCrypto or
// AES encryption, which archive/zip cannot decode.
var ErrEncrypted = errors.New("encrypted zip entries are not supported")

// entry is the part of a zip or 7z member that extraction needs.
type entry struct {
	name string
	info fs.FileInfo
	size uint64
	open func() (io.ReadCloser, error)
}

func ExtractZipSecure(zipPath, dest string, limits Limits) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	entries := make([]entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.Flags&0x1 != 0 {
			return nil, fmt.Errorf("%w: %s", ErrEncrypted, f.Name)
		}
		entries = append(entries, entry{
			name: f.Name,
			info: f.FileInfo(),
			size: f.UncompressedSize64,
			open: f.Open,
		})
	}
	return extractEntries(dest, entries, limits)
}

// ListZip returns member names as stored.
func ListZip(zipPath string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

func extractEntries(dest string, entries []entry, limits Limits) ([]string, error) {
	if err := limits.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction dest: %w", err)
	}

	cleanDest := filepath.Clean(dest)
	var total int64
	var count int
	created := make([]string, 0, len(entries))

	for _, e := range entries {
		entryName, err := sanitizeEntryName(e.name)
		if err != nil {
			return nil, err
		}
		if entryName == "." {
			continue
		}
		count++
		if count > limits.MaxFiles {
			return nil, fmt.Errorf("archive has too many entries: %d > %d", count, limits.MaxFiles)
		}

		if e.info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("symlink entry not allowed: %s", e.name)
		}

		target := filepath.Join(cleanDest, filepath.FromSlash(entryName))
		if !withinDir(cleanDest, target) {
			return nil, fmt.Errorf("archive entry escapes destination: %s", e.name)
		}

		if e.info.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %q: %w", target, err)
			}
			continue
		}

		if e.size > uint64(limits.MaxFileBytes) {
			return nil, fmt.Errorf("archive entry too large: %s", e.name)
		}
		total += int64(e.size)
		if total > limits.MaxTotalBytes {
			return nil, fmt.Errorf("archive total size exceeds limit")
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("create parent directory: %w", err)
		}
		if err := writeEntry(e, target, limits.MaxFileBytes); err != nil {
			return nil, err
		}
		created = append(created, entryName)
	}

	return created, nil
}

func writeEntry(e entry, target string, maxBytes int64) error {
	rc, err := e.open()
	if err != nil {
		return fmt.Errorf("open archive entry %q: %w", e.name, err)
	}

	perm := e.info.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	wf, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		rc.Close()
		return fmt.Errorf("create output file %q: %w", target, err)
	}

	n, copyErr := io.Copy(wf, io.LimitReader(rc, maxBytes+1))
	closeErr := rc.Close()
	writeCloseErr := wf.Close()
	if copyErr != nil {
		return fmt.Errorf("extract %q: %w", e.name, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close archive entry %q: %w", e.name, closeErr)
	}
	if writeCloseErr != nil {
		return fmt.Errorf("close output file %q: %w", target, writeCloseErr)
	}
	if n > maxBytes {
		return fmt.Errorf("archive entry exceeds max file bytes while extracting: %s", e.name)
	}
	return nil
}

// WriteZipFromDir writes the files under srcDir to w with names relative to
// srcDir. Without recursive only regular files directly in srcDir are added.
// Symlinks are not followed.
func WriteZipFromDir(srcDir string, w io.Writer, recursive bool) error {
	zw := zip.NewWriter(w)

	cleanSrc := filepath.Clean(srcDir)
	walkErr := filepath.WalkDir(cleanSrc, func(pathNow string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if pathNow == cleanSrc {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(cleanSrc, pathNow)
		if err != nil {
			return err
		}
		zipName := filepath.ToSlash(rel)
		if zipName == "." || strings.HasPrefix(zipName, "../") {
			return fmt.Errorf("invalid relative path: %s", rel)
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if !recursive {
				return fs.SkipDir
			}
			header.Name = zipName + "/"
			header.Method = zip.Store
			_, err := zw.CreateHeader(header)
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		header.Name = zipName
		header.Method = zip.Deflate
		wf, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		rf, err := os.Open(pathNow)
		if err != nil {
			return err
		}
		defer rf.Close()

		_, err = io.Copy(wf, rf)
		return err
	})
	closeErr := zw.Close()
	if walkErr != nil {
		return walkErr
	}
	return closeErr
}

func sanitizeEntryName(name string) (string, error) {
	raw := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if raw == "" {
		return "", errors.New("archive entry name cannot be empty")
	}
	if strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("absolute archive entry path not allowed: %s", name)
	}
	if hasWindowsDrive(raw) {
		return "", fmt.Errorf("absolute archive entry path not allowed: %s", name)
	}
	cleaned := path.Clean(raw)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path traversal archive entry not allowed: %s", name)
	}
	return cleaned, nil
}

func withinDir(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func hasWindowsDrive(p string) bool {
	return len(p) >= 2 && p[1] == ':'
}
