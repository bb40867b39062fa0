package nsc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/dmitrijs2005/natskeeper/internal/common"
)

// Runner executes one invocation of the credential tool and returns its
// stdout. A non-zero exit is reported as *common.ExternalToolError carrying
// the tool's stderr.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs the nsc binary as a subprocess.
type ExecRunner struct {
	Binary string
}

// NewExecRunner returns a runner for the given binary; an empty name means
// "nsc" resolved through PATH.
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = "nsc"
	}
	return &ExecRunner{Binary: binary}
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, r.Binary, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		toolErr := &common.ExternalToolError{
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && toolErr.Stderr == "" {
			// the binary never ran (missing from PATH, context cancelled)
			toolErr.Stderr = err.Error()
		}
		return "", toolErr
	}
	return strings.TrimSpace(stdout.String()), nil
}
