// Package engine creates and extracts archives inside two sandbox roots: a
// read-scoped source root and a write-scoped output root.
//
// Extraction lists the archive first to learn whether it has a single
// top-level directory, plans the destination and overwrite handling, unpacks
// into a private staging directory and finally promotes the result so that no
// partial output is ever visible at the destination.
package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mblsha/zipforge/internal/archiver"
	"github.com/mblsha/zipforge/internal/fault"
	"github.com/mblsha/zipforge/internal/metrics"
	"github.com/mblsha/zipforge/internal/sandbox"
)

const DefaultArchiveName = "archive.zip"

type Options struct {
	SourceDir string
	OutputDir string
	Archiver  archiver.Archiver
	Log       logrus.FieldLogger
	Metrics   metrics.Recorder
}

type Engine struct {
	source   *sandbox.Root
	output   *sandbox.Root
	archiver archiver.Archiver
	stager   *StagedExtractor
	log      logrus.FieldLogger
	metrics  metrics.Recorder
}

// ArchiveRequest asks for Folder (relative to the source root) to be
// packed into ArchiveName under the output root.
type ArchiveRequest struct {
	Folder      string
	ArchiveName string
	Password    string
	Recursive   bool
	Format      string
}

type CreateResult struct {
	Archive sandbox.ConfinedPath
	Format  archiver.Format
}

// ExtractionRequest asks for ArchiveName inside Folder (both under the source
// root) to be unpacked under the output root. Destination, when set,
// overrides the archive stem as the target directory name.
type ExtractionRequest struct {
	Folder      string
	ArchiveName string
	Password    string
	Destination string
	Overwrite   string
}

type ExtractResult struct {
	Archive     string
	ExtractedTo string
	Entries     []string
	Layout      Layout
	Mode        PromotionMode
}

// New canonicalizes both roots. The source root must exist; the output root
// is created when missing.
func New(opts Options) (*Engine, error) {
	if opts.Archiver == nil {
		return nil, errors.New("engine requires an archiver")
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	source, err := sandbox.NewRoot(opts.SourceDir, false)
	if err != nil {
		return nil, err
	}
	output, err := sandbox.NewRoot(opts.OutputDir, true)
	if err != nil {
		return nil, err
	}
	a := &instrumented{Archiver: opts.Archiver, metrics: opts.Metrics}
	return &Engine{
		source:   source,
		output:   output,
		archiver: a,
		stager:   &StagedExtractor{Out: output, Archiver: a, Log: opts.Log, Metrics: opts.Metrics},
		log:      opts.Log,
		metrics:  opts.Metrics,
	}, nil
}

func (e *Engine) SourceRoot() *sandbox.Root {
	return e.source
}

func (e *Engine) OutputRoot() *sandbox.Root {
	return e.output
}

// CreateArchive packs a confined source folder into a confined output file.
// All validation happens before the archiver runs.
func (e *Engine) CreateArchive(ctx context.Context, req ArchiveRequest) (CreateResult, error) {
	log := e.log.WithFields(logrus.Fields{
		"folder":       req.Folder,
		"archive_name": req.ArchiveName,
		"recursive":    req.Recursive,
		"format":       req.Format,
	})
	log.Info("zip request")

	src, err := e.source.Confine(req.Folder)
	if err != nil {
		return CreateResult{}, err
	}
	if !isDir(src.Path()) {
		return CreateResult{}, fault.NotFound("folder not found: %s", src.Path())
	}
	format, err := archiver.ParseFormat(req.Format)
	if err != nil {
		return CreateResult{}, err
	}
	name := req.ArchiveName
	if strings.TrimSpace(name) == "" {
		name = DefaultArchiveName
	}
	out, err := e.output.Allocate(name)
	if err != nil {
		return CreateResult{}, err
	}
	if out.IsRoot() || isDir(out.Path()) {
		return CreateResult{}, fault.InvalidArgument("archive name must name a file: %q", name)
	}

	if err := e.archiver.Create(ctx, archiver.CreateRequest{
		WorkDir:   src.Path(),
		Output:    out.Path(),
		Format:    format,
		Password:  req.Password,
		Recursive: req.Recursive,
	}); err != nil {
		return CreateResult{}, err
	}
	if !isRegular(out.Path()) {
		return CreateResult{}, fault.Internal(os.ErrNotExist, "archiver reported success but produced no file at "+out.Path())
	}
	log.WithField("output", out.Path()).Info("archive created")
	return CreateResult{Archive: out, Format: format}, nil
}

// ExtractArchive validates the request, inspects the archive (unless a
// destination override is given), plans the destination, extracts through a
// staging directory and returns the final location with its top-level
// manifest.
func (e *Engine) ExtractArchive(ctx context.Context, req ExtractionRequest) (ExtractResult, error) {
	log := e.log.WithFields(logrus.Fields{
		"folder":       req.Folder,
		"archive_name": req.ArchiveName,
		"dest_dir":     req.Destination,
		"overwrite":    req.Overwrite,
	})
	log.Info("unzip request")

	folder, err := e.source.Confine(req.Folder)
	if err != nil {
		return ExtractResult{}, err
	}
	if !isDir(folder.Path()) {
		return ExtractResult{}, fault.NotFound("source folder not found: %s", folder.Path())
	}
	if strings.TrimSpace(req.ArchiveName) == "" {
		return ExtractResult{}, fault.InvalidArgument("archive_name is required")
	}
	archivePath, err := folder.Join(req.ArchiveName)
	if err != nil {
		return ExtractResult{}, err
	}
	if !isRegular(archivePath.Path()) {
		return ExtractResult{}, fault.NotFound("archive file not found: %s", archivePath.Path())
	}
	policy, err := ParseOverwritePolicy(req.Overwrite)
	if err != nil {
		return ExtractResult{}, err
	}

	stem := ArchiveStem(archivePath.Base())
	layout := Layout{Kind: LayoutSkipped}
	if strings.TrimSpace(req.Destination) == "" {
		layout = Inspect(ctx, e.archiver, archivePath.Path(), req.Password)
		if layout.Err != nil {
			log.WithError(layout.Err).Warn("archive listing failed; assuming mixed layout")
		}
	}

	plan, err := PlanExtraction(e.output, req.Destination, policy, layout, stem)
	if err != nil {
		return ExtractResult{}, err
	}
	log.WithFields(logrus.Fields{
		"layout":      layout.Kind,
		"layout_root": layout.Root,
		"mode":        plan.Mode,
		"destination": plan.Destination.Path(),
		"replaced":    plan.Replaced,
		"renamed":     plan.Renamed,
	}).Info("extraction planned")

	final, mode, err := e.stager.Extract(ctx, archivePath.Path(), req.Password, plan)
	if err != nil {
		return ExtractResult{}, err
	}

	entries, err := listTopLevel(final.Path())
	if err != nil {
		e.metrics.IncCleanupWarning("manifest")
		log.WithError(err).Warn("failed to list extracted entries")
	}

	return ExtractResult{
		Archive:     archivePath.Path(),
		ExtractedTo: final.Path(),
		Entries:     entries,
		Layout:      layout,
		Mode:        mode,
	}, nil
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func isRegular(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

// instrumented records latency and outcome of every archiver call.
type instrumented struct {
	archiver.Archiver
	metrics metrics.Recorder
}

func (a *instrumented) Create(ctx context.Context, req archiver.CreateRequest) error {
	start := time.Now()
	err := a.Archiver.Create(ctx, req)
	a.metrics.ObserveArchiver(a.Name(), "create", metrics.Outcome(err), time.Since(start))
	return err
}

func (a *instrumented) Extract(ctx context.Context, req archiver.ExtractRequest) error {
	start := time.Now()
	err := a.Archiver.Extract(ctx, req)
	a.metrics.ObserveArchiver(a.Name(), "extract", metrics.Outcome(err), time.Since(start))
	return err
}

func (a *instrumented) List(ctx context.Context, archivePath, password string) ([]string, error) {
	start := time.Now()
	names, err := a.Archiver.List(ctx, archivePath, password)
	a.metrics.ObserveArchiver(a.Name(), "list", metrics.Outcome(err), time.Since(start))
	return names, err
}
