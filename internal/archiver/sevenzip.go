package archiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/mblsha/zipforge/internal/fault"
)

const maxLoggedStdout = 1000

// SevenZip drives an external 7z binary. Each call is an independent process.
type SevenZip struct {
	Bin     string
	Runner  Runner
	Timeout time.Duration
	OSName  string
	Log     logrus.FieldLogger
}

func NewSevenZip(bin string, runner Runner, timeout time.Duration, log logrus.FieldLogger) *SevenZip {
	if runner == nil {
		runner = OSRunner{}
	}
	if strings.TrimSpace(bin) == "" {
		bin = "7z"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SevenZip{
		Bin:     bin,
		Runner:  runner,
		Timeout: timeout,
		OSName:  runtime.GOOS,
		Log:     log,
	}
}

func (s *SevenZip) Name() string {
	return BackendSevenZip
}

func (s *SevenZip) Create(ctx context.Context, req CreateRequest) error {
	spec := s.command(createArgs(req), req.WorkDir)
	_, err := s.run(ctx, "create", spec, fault.CodeCompressionFailed)
	return err
}

func (s *SevenZip) Extract(ctx context.Context, req ExtractRequest) error {
	spec := s.command(extractArgs(req), "")
	_, err := s.run(ctx, "extract", spec, fault.CodeExtractionFailed)
	return err
}

func (s *SevenZip) List(ctx context.Context, archive, password string) ([]string, error) {
	spec := s.command(listArgs(archive, password), "")
	out, err := s.run(ctx, "list", spec, fault.CodeExtractionFailed)
	if err != nil {
		return nil, err
	}
	return ParseListing(out.Stdout), nil
}

func (s *SevenZip) command(args []string, dir string) CommandSpec {
	if strings.EqualFold(s.OSName, "windows") && strings.HasSuffix(strings.ToLower(s.Bin), ".bat") {
		return CommandSpec{Name: "cmd.exe", Args: append([]string{"/C", s.Bin}, args...), Dir: dir}
	}
	return CommandSpec{Name: s.Bin, Args: args, Dir: dir}
}

func (s *SevenZip) run(ctx context.Context, op string, spec CommandSpec, failCode perrors.ErrorCode) (Output, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	log := s.Log.WithFields(logrus.Fields{
		"op":   op,
		"argv": RedactArgs(append([]string{spec.Name}, spec.Args...)),
		"dir":  spec.Dir,
	})
	log.Debug("running archiver")

	start := time.Now()
	out, err := s.Runner.Run(ctx, spec)
	log = log.WithFields(logrus.Fields{
		"exit_code": out.ExitCode,
		"duration":  time.Since(start).Round(time.Millisecond).String(),
	})

	if err == nil && out.ExitCode == 0 {
		log.WithField("stdout", Truncate(out.Stdout, maxLoggedStdout)).Info("archiver finished")
		return out, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		log.Error("archiver timed out")
		return out, fault.Timeout(err, "7z %s timed out after %s", op, s.Timeout)
	}

	diags := ParseDiagnostics(out.Stderr, out.Stdout)
	detail := FailureDetail(out, err)
	log.WithFields(logrus.Fields{
		"stdout":      Truncate(out.Stdout, maxLoggedStdout),
		"stderr":      out.Stderr,
		"diagnostics": diags,
	}).Error("archiver failed")

	cause := err
	if cause == nil {
		cause = fmt.Errorf("%s exited %d", spec.Name, out.ExitCode)
	}
	return out, perrors.WithContext(
		fault.ToolFailed(failCode, "7z", cause, detail, out.ExitCode),
		"reason", FailureReason(diags),
	)
}

func createArgs(req CreateRequest) []string {
	format := req.Format
	if format == "" {
		format = FormatZip
	}
	args := []string{"a", "-t" + string(format)}
	if req.Password != "" {
		args = append(args, "-p"+req.Password)
		if format == FormatSevenZip {
			args = append(args, "-mhe=on")
		}
	}
	if req.Recursive {
		args = append(args, "-r")
	}
	return append(args, req.Output, ".")
}

func extractArgs(req ExtractRequest) []string {
	args := []string{"x", req.Archive, "-o" + req.Dest, "-y"}
	if req.Password != "" {
		args = append(args, "-p"+req.Password)
	}
	return args
}

func listArgs(archive, password string) []string {
	args := []string{"l", "-slt", archive}
	if password != "" {
		args = append(args, "-p"+password)
	}
	return args
}

// ParseListing returns the "Path = " values of a `7z l -slt` listing. The
// archive's own header block precedes a dashed separator; when the separator
// is present only entries after it are returned.
func ParseListing(stdout string) []string {
	var before, after []string
	separated := false
	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasPrefix(line, "----------") {
			separated = true
			continue
		}
		name, ok := strings.CutPrefix(line, "Path = ")
		if !ok {
			continue
		}
		if separated {
			after = append(after, name)
		} else {
			before = append(before, name)
		}
	}
	if separated {
		if after == nil {
			return []string{}
		}
		return after
	}
	if before == nil {
		return []string{}
	}
	return before
}

// RedactArgs masks the value of any -p switch.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "-p") && len(a) > 2 {
			out[i] = "-p***"
			continue
		}
		out[i] = a
	}
	return out
}

func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
