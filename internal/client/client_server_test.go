package client

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mblsha/zipforge/internal/api"
	"github.com/mblsha/zipforge/internal/archive"
	"github.com/mblsha/zipforge/internal/archiver"
	"github.com/mblsha/zipforge/internal/config"
	"github.com/mblsha/zipforge/internal/engine"
	"github.com/mblsha/zipforge/internal/server"
)

func TestClientServer_ZipThenUnzip(t *testing.T) {
	cfg := config.Default()
	cfg.Token = "secret-123"
	cfg.SourceDir = t.TempDir()
	cfg.OutputDir = t.TempDir()

	log, _ := test.NewNullLogger()
	eng, err := engine.New(engine.Options{
		SourceDir: cfg.SourceDir,
		OutputDir: cfg.OutputDir,
		Archiver:  archiver.NewNative(archive.DefaultLimits(), log),
		Log:       log,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(server.New(cfg, eng, server.WithLogger(log)).Handler())
	defer ts.Close()

	src := eng.SourceRoot().Path()
	out := eng.OutputRoot().Path()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "report", "pages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "report", "index.txt"), []byte("index"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "report", "pages", "1.txt"), []byte("one"), 0o644))

	c := &HTTPClient{BaseURL: ts.URL, Token: cfg.Token}
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "123", health.LastTokenDigits)
	assert.Equal(t, out, health.OutPath)

	var buf bytes.Buffer
	name, err := c.ZipFolder(ctx, api.ZipFolderRequest{Folder: "report", ArchiveName: "report.zip"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "report.zip", name)
	assert.NotZero(t, buf.Len())

	// Feed the server's own output back as a source archive.
	require.NoError(t, os.WriteFile(filepath.Join(src, "report.zip"), buf.Bytes(), 0o644))
	res, err := c.UnzipArchive(ctx, api.UnzipRequest{Folder: ".", ArchiveName: "report.zip"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, filepath.Join(out, "report"), res.ExtractedTo)
	assert.Equal(t, []string{"index.txt", "pages"}, res.EntriesTopLevel)

	_, err = c.UnzipArchive(ctx, api.UnzipRequest{Folder: ".", ArchiveName: "report.zip"})
	assert.Equal(t, errors.CodeConflict, errors.GetCode(err))

	bad := &HTTPClient{BaseURL: ts.URL, Token: "nope"}
	_, err = bad.UnzipArchive(ctx, api.UnzipRequest{Folder: ".", ArchiveName: "report.zip"})
	assert.Equal(t, errors.CodeUnauthorized, errors.GetCode(err))
}
