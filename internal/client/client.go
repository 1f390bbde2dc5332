// Package client talks to a zipforge server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	perrors "github.com/jmgilman/go/errors"

	"github.com/mblsha/zipforge/internal/api"
)

const defaultBaseURL = "http://127.0.0.1:8080"

type HTTPClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// ZipFolder asks the server to pack req.Folder and copies the archive into
// out. It returns the file name the server reported.
func (c *HTTPClient) ZipFolder(ctx context.Context, req api.ZipFolderRequest, out io.Writer) (string, error) {
	resp, err := c.post(ctx, "/zip-folder", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("download archive: %w", err)
	}
	return attachmentName(resp.Header.Get("Content-Disposition")), nil
}

func (c *HTTPClient) UnzipArchive(ctx context.Context, req api.UnzipRequest) (*api.UnzipResponse, error) {
	resp, err := c.post(ctx, "/unzip-archive", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var payload api.UnzipResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode unzip response: %w", err)
	}
	return &payload, nil
}

func (c *HTTPClient) Health(ctx context.Context) (*api.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("/health"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var payload api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &payload, nil
}

func (c *HTTPClient) post(ctx context.Context, pathPart string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(pathPart), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	return c.httpClient().Do(req)
}

// decodeError turns a non-2xx response into a PlatformError carrying the
// server's code, so callers can branch with errors.GetCode.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body api.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == nil {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return perrors.WithContext(
			perrors.Newf(codeForStatus(resp.StatusCode), "request failed: status=%d body=%s", resp.StatusCode, msg),
			"status", resp.StatusCode,
		)
	}
	ctx := map[string]interface{}{"status": resp.StatusCode}
	for k, v := range body.Error.Context {
		ctx[k] = v
	}
	return perrors.WithContextMap(perrors.New(perrors.ErrorCode(body.Error.Code), body.Detail), ctx)
}

func codeForStatus(status int) perrors.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return perrors.CodeInvalidInput
	case http.StatusUnauthorized:
		return perrors.CodeUnauthorized
	case http.StatusForbidden:
		return perrors.CodeForbidden
	case http.StatusNotFound:
		return perrors.CodeNotFound
	case http.StatusConflict:
		return perrors.CodeConflict
	case http.StatusGatewayTimeout:
		return perrors.CodeTimeout
	default:
		return perrors.CodeInternal
	}
}

func attachmentName(header string) string {
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return path.Base(strings.ReplaceAll(params["filename"], "\\", "/"))
}

func (c *HTTPClient) buildURL(pathPart string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + pathPart
	}
	u.Path = path.Join(u.Path, pathPart)
	return u.String()
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if token := strings.TrimSpace(c.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
