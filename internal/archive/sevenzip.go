package archive

import (
	"fmt"

	"github.com/bodgit/sevenzip"
)

func openSevenZip(archivePath, password string) (*sevenzip.ReadCloser, error) {
	var (
		r   *sevenzip.ReadCloser
		err error
	)
	if password != "" {
		r, err = sevenzip.OpenReaderWithPassword(archivePath, password)
	} else {
		r, err = sevenzip.OpenReader(archivePath)
	}
	if err != nil {
		return nil, fmt.Errorf("open 7z: %w", err)
	}
	return r, nil
}

// ExtractSevenZipSecure unpacks a 7z archive into dest under the same entry
// rules and limits as ExtractZipSecure.
func ExtractSevenZipSecure(archivePath, dest, password string, limits Limits) ([]string, error) {
	r, err := openSevenZip(archivePath, password)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	entries := make([]entry, 0, len(r.File))
	for _, f := range r.File {
		entries = append(entries, entry{
			name: f.Name,
			info: f.FileInfo(),
			size: f.UncompressedSize,
			open: f.Open,
		})
	}
	return extractEntries(dest, entries, limits)
}

func ListSevenZip(archivePath, password string) ([]string, error) {
	r, err := openSevenZip(archivePath, password)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}
