package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

type Kind string

const (
	KindUnknown  Kind = ""
	KindZip      Kind = "zip"
	KindSevenZip Kind = "7z"
)

var (
	zipLocalMagic = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	sevenZipMagic = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}
)

// Detect sniffs the container type from the file's leading bytes.
func Detect(archivePath string) (Kind, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return KindUnknown, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	head := make([]byte, len(sevenZipMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindUnknown, fmt.Errorf("read archive header: %w", err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, sevenZipMagic):
		return KindSevenZip, nil
	case bytes.HasPrefix(head, zipLocalMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return KindZip, nil
	default:
		return KindUnknown, nil
	}
}
