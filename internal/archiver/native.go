package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"

	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/mblsha/zipforge/internal/archive"
	"github.com/mblsha/zipforge/internal/fault"
)

// Native handles zip create/extract/list and 7z extract/list without an
// external binary. It cannot write 7z archives or encrypt zip archives.
type Native struct {
	Limits archive.Limits
	Log    logrus.FieldLogger
}

func NewNative(limits archive.Limits, log logrus.FieldLogger) *Native {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Native{Limits: limits, Log: log}
}

func (n *Native) Name() string {
	return BackendNative
}

func (n *Native) Create(ctx context.Context, req CreateRequest) error {
	if req.Format == FormatSevenZip {
		return fault.InvalidArgument("the native archiver cannot write 7z archives")
	}
	if req.Password != "" {
		return fault.InvalidArgument("the native archiver cannot encrypt zip archives")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(req.Output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return n.failed(fault.CodeCompressionFailed, "create", err)
	}
	writeErr := archive.WriteZipFromDir(req.WorkDir, f, req.Recursive)
	closeErr := f.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(req.Output)
		return n.failed(fault.CodeCompressionFailed, "create", writeErr)
	}
	n.Log.WithFields(logrus.Fields{"op": "create", "output": req.Output}).Info("archiver finished")
	return nil
}

func (n *Native) Extract(ctx context.Context, req ExtractRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kind, err := archive.Detect(req.Archive)
	if err != nil {
		return n.failed(fault.CodeExtractionFailed, "extract", err)
	}

	var created []string
	switch kind {
	case archive.KindZip:
		created, err = archive.ExtractZipSecure(req.Archive, req.Dest, n.Limits)
	case archive.KindSevenZip:
		created, err = archive.ExtractSevenZipSecure(req.Archive, req.Dest, req.Password, n.Limits)
	default:
		err = errors.New("Can not open the file as archive")
	}
	if err != nil {
		return n.failed(fault.CodeExtractionFailed, "extract", err)
	}
	n.Log.WithFields(logrus.Fields{"op": "extract", "archive": req.Archive, "files": len(created)}).Info("archiver finished")
	return nil
}

func (n *Native) List(ctx context.Context, archivePath, password string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, err := archive.Detect(archivePath)
	if err != nil {
		return nil, n.failed(fault.CodeExtractionFailed, "list", err)
	}
	var names []string
	switch kind {
	case archive.KindZip:
		names, err = archive.ListZip(archivePath)
	case archive.KindSevenZip:
		names, err = archive.ListSevenZip(archivePath, password)
	default:
		err = errors.New("Can not open the file as archive")
	}
	if err != nil {
		return nil, n.failed(fault.CodeExtractionFailed, "list", err)
	}
	return names, nil
}

func (n *Native) failed(code perrors.ErrorCode, op string, err error) error {
	detail := err.Error()
	n.Log.WithFields(logrus.Fields{"op": op, "error": detail}).Error("archiver failed")
	reason := "internal"
	if errors.Is(err, archive.ErrEncrypted) {
		reason = "password"
	}
	return perrors.WithContext(
		fault.ToolFailed(code, "native archiver", fmt.Errorf("native %s: %w", op, err), detail, 1),
		"reason", reason,
	)
}
