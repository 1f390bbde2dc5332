package archiver

import (
	"strings"

	"github.com/mblsha/zipforge/internal/fault"
)

// Format is the container written by Create.
type Format string

const (
	FormatZip      Format = "zip"
	FormatSevenZip Format = "7z"
)

// ParseFormat accepts "zip" or "7z" in any case. The empty string selects zip.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(FormatZip):
		return FormatZip, nil
	case string(FormatSevenZip):
		return FormatSevenZip, nil
	default:
		return "", fault.InvalidArgument("unsupported format %q: expected zip or 7z", raw)
	}
}

func (f Format) MediaType() string {
	if f == FormatSevenZip {
		return "application/x-7z-compressed"
	}
	return "application/zip"
}

func (f Format) Extension() string {
	return "." + string(f)
}
