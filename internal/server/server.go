package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/mblsha/zipforge/internal/api"
	"github.com/mblsha/zipforge/internal/config"
	"github.com/mblsha/zipforge/internal/engine"
	"github.com/mblsha/zipforge/internal/fault"
	"github.com/mblsha/zipforge/internal/metrics"
)

type API struct {
	cfg            config.Config
	engine         *engine.Engine
	log            logrus.FieldLogger
	metrics        metrics.Recorder
	metricsHandler http.Handler
	mux            *http.ServeMux
}

type Option func(*API)

func WithLogger(log logrus.FieldLogger) Option {
	return func(a *API) { a.log = log }
}

// WithMetrics records request metrics to rec and, when handler is non-nil,
// serves it on GET /metrics.
func WithMetrics(rec metrics.Recorder, handler http.Handler) Option {
	return func(a *API) {
		a.metrics = rec
		a.metricsHandler = handler
	}
}

func New(cfg config.Config, eng *engine.Engine, opts ...Option) *API {
	a := &API{
		cfg:     cfg,
		engine:  eng,
		log:     logrus.StandardLogger(),
		metrics: metrics.Noop{},
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) Handler() http.Handler {
	return a.observe(a.mux)
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /health", a.handleHealth)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.Handle("POST /zip-folder", a.guard(http.HandlerFunc(a.handleZipFolder)))
	a.mux.Handle("POST /unzip-archive", a.guard(http.HandlerFunc(a.handleUnzipArchive)))
	if a.metricsHandler != nil {
		a.mux.Handle("GET /metrics", a.metricsHandler)
	}
}

func (a *API) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.checkAllowlist(r); err != nil {
			a.writeError(w, r, fault.Forbidden("%s", err.Error()))
			return
		}
		if err := a.checkToken(r); err != nil {
			a.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) checkToken(r *http.Request) error {
	const prefix = "bearer "
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return fault.Unauthorized()
	}
	got := strings.TrimSpace(header[len(prefix):])
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.Token)) != 1 {
		return fault.Unauthorized()
	}
	return nil
}

func (a *API) checkAllowlist(r *http.Request) error {
	if !a.cfg.AllowlistEnabled() {
		return nil
	}
	ip, err := remoteIP(r.RemoteAddr)
	if err != nil {
		return err
	}
	for _, allow := range a.cfg.Allowlist {
		if allowEntryMatches(allow, ip) {
			return nil
		}
	}
	return fmt.Errorf("remote ip %s is not allowed", ip.String())
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:          "ok",
		BasePath:        a.engine.SourceRoot().Path(),
		OutPath:         a.engine.OutputRoot().Path(),
		LastTokenDigits: a.cfg.LastTokenDigits(),
	})
}

func (a *API) handleZipFolder(w http.ResponseWriter, r *http.Request) {
	var req api.ZipFolderRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.engine.CreateArchive(r.Context(), engine.ArchiveRequest{
		Folder:      req.Folder,
		ArchiveName: req.ArchiveName,
		Password:    req.Password,
		Recursive:   req.RecursiveOrDefault(),
		Format:      req.Format,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	f, err := os.Open(res.Archive.Path())
	if err != nil {
		a.writeError(w, r, fault.Internal(err, "open created archive"))
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		a.writeError(w, r, fault.Internal(err, "stat created archive"))
		return
	}

	w.Header().Set("Content-Type", res.Format.MediaType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Archive.Base()}))
	http.ServeContent(w, r, res.Archive.Base(), fi.ModTime(), f)
}

func (a *API) handleUnzipArchive(w http.ResponseWriter, r *http.Request) {
	var req api.UnzipRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.engine.ExtractArchive(r.Context(), engine.ExtractionRequest{
		Folder:      req.Folder,
		ArchiveName: req.ArchiveName,
		Password:    req.Password,
		Destination: req.DestDir,
		Overwrite:   req.Overwrite,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.UnzipResponse{
		Status:          "ok",
		Archive:         res.Archive,
		ExtractedTo:     res.ExtractedTo,
		EntriesTopLevel: res.Entries,
	})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxRequestBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fault.InvalidArgument("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fault.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.HTTPStatus(err)
	resp := perrors.ToJSON(err)
	entry := a.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"code":   string(resp.Code),
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Warn("request rejected")
	}
	writeJSON(w, status, api.ErrorBody{Detail: resp.Message, Error: resp})
}

// observe logs and records every request with its final status.
func (a *API) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		a.metrics.ObserveRequest(route, strconv.Itoa(sw.status), elapsed)
		a.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"remote":   r.RemoteAddr,
			"duration": elapsed.Round(time.Millisecond).String(),
		}).Debug("request served")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func remoteIP(remoteAddr string) (net.IP, error) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("parse remote addr: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid remote ip: %s", host)
	}
	return ip, nil
}

func allowEntryMatches(entry string, ip net.IP) bool {
	if strings.Contains(entry, "/") {
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return false
		}
		return cidr.Contains(ip)
	}
	allowed := net.ParseIP(entry)
	if allowed == nil {
		return false
	}
	return allowed.Equal(ip)
}
