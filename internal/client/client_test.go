package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mblsha/zipforge/internal/api"
)

func TestClient_SendsBearerTokenAndBody(t *testing.T) {
	var gotAuth string
	var gotReq api.UnzipRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/base/unzip-archive", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(api.UnzipResponse{Status: "ok", ExtractedTo: "/output/x"})
	}))
	defer ts.Close()

	c := &HTTPClient{BaseURL: ts.URL + "/base/", Token: "tok"}
	resp, err := c.UnzipArchive(context.Background(), api.UnzipRequest{Folder: "in", ArchiveName: "x.zip", Overwrite: "rename"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "rename", gotReq.Overwrite)
	assert.Equal(t, "/output/x", resp.ExtractedTo)
}

func TestClient_DecodesErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorBody{
			Detail: "destination exists: /output/x",
			Error: &errors.ErrorResponse{
				Code:    "CONFLICT",
				Message: "destination exists: /output/x",
				Context: map[string]interface{}{"destination": "/output/x"},
			},
		})
	}))
	defer ts.Close()

	c := &HTTPClient{BaseURL: ts.URL}
	_, err := c.UnzipArchive(context.Background(), api.UnzipRequest{Folder: ".", ArchiveName: "x.zip"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConflict, errors.GetCode(err))
	assert.Contains(t, err.Error(), "destination exists")

	var pe errors.PlatformError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "/output/x", pe.Context()["destination"])
	assert.Equal(t, http.StatusConflict, pe.Context()["status"])
}

func TestClient_HandlesPlainTextErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("boom"))
	}))
	defer ts.Close()

	c := &HTTPClient{BaseURL: ts.URL}
	_, err := c.ZipFolder(context.Background(), api.ZipFolderRequest{Folder: "x"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInternal, errors.GetCode(err))
	assert.Contains(t, err.Error(), "boom")

	_, err = c.Health(context.Background())
	assert.Error(t, err)
}

func TestClient_ZipFolderCopiesBodyAndName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="../evil.zip"`)
		_, _ = w.Write([]byte("PK-bytes"))
	}))
	defer ts.Close()

	var buf bytes.Buffer
	c := &HTTPClient{BaseURL: ts.URL}
	name, err := c.ZipFolder(context.Background(), api.ZipFolderRequest{Folder: "x"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "evil.zip", name)
	assert.Equal(t, "PK-bytes", buf.String())
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, errors.CodeInvalidInput, codeForStatus(http.StatusBadRequest))
	assert.Equal(t, errors.CodeUnauthorized, codeForStatus(http.StatusUnauthorized))
	assert.Equal(t, errors.CodeNotFound, codeForStatus(http.StatusNotFound))
	assert.Equal(t, errors.CodeTimeout, codeForStatus(http.StatusGatewayTimeout))
	assert.Equal(t, errors.CodeInternal, codeForStatus(http.StatusTeapot))
}

func TestBuildURL(t *testing.T) {
	assert.Equal(t, defaultBaseURL+"/health", (&HTTPClient{}).buildURL("/health"))
	assert.Equal(t, "http://h:1/api/zip-folder", (&HTTPClient{BaseURL: "http://h:1/api"}).buildURL("/zip-folder"))
}
