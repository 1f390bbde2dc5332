package archiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mblsha/zipforge/internal/fault"
)

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{
		"":     FormatZip,
		"zip":  FormatZip,
		"ZIP":  FormatZip,
		" 7z ": FormatSevenZip,
		"7Z":   FormatSevenZip,
	} {
		got, err := ParseFormat(raw)
		require.NoError(t, err, "raw=%q", raw)
		assert.Equal(t, want, got, "raw=%q", raw)
	}

	_, err := ParseFormat("rar")
	require.Error(t, err)
	assert.True(t, fault.Is(err, "INVALID_INPUT"))
}

func TestFormat_MediaTypeAndExtension(t *testing.T) {
	assert.Equal(t, "application/zip", FormatZip.MediaType())
	assert.Equal(t, "application/x-7z-compressed", FormatSevenZip.MediaType())
	assert.Equal(t, ".7z", FormatSevenZip.Extension())
}

func TestNormalizeBackend(t *testing.T) {
	for raw, want := range map[string]string{"": BackendSevenZip, "7Z": BackendSevenZip, "7zz": BackendSevenZip, "Native": BackendNative} {
		got, err := NormalizeBackend(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := NormalizeBackend("winrar")
	assert.Error(t, err)
}
