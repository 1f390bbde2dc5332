package archiver

import (
	"context"
	"errors"

	"github.com/jmgilman/go/exec"
)

type CommandSpec struct {
	Name string
	Args []string
	Dir  string
}

// Output is what a finished process left behind. ExitCode is -1 when the
// process never started or was killed.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Runner interface {
	Run(ctx context.Context, spec CommandSpec) (Output, error)
}

// OSRunner starts a real process per call.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, spec CommandSpec) (Output, error) {
	opts := []exec.Option{
		exec.WithContext(ctx),
		exec.WithInheritEnv(),
		exec.WithDisableColors(),
	}
	if spec.Dir != "" {
		opts = append(opts, exec.WithDir(spec.Dir))
	}
	// Command carries per-run state, so each call builds its own.
	cmd := exec.New(opts...)
	res, err := cmd.Run(append([]string{spec.Name}, spec.Args...)...)

	out := Output{ExitCode: -1}
	if res != nil {
		out = Output{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	}
	if err == nil {
		return out, nil
	}
	var execErr *exec.ExecError
	if errors.As(err, &execErr) {
		out.ExitCode = execErr.ExitCode
		if out.Stdout == "" {
			out.Stdout = execErr.Stdout
		}
		if out.Stderr == "" {
			out.Stderr = execErr.Stderr
		}
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, err
}
