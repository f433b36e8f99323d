package latex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	rterrors "resumetailor/internal/errors"
)

// Result holds the output of a successful compilation.
type Result struct {
	// PDF is the compiled document content.
	PDF []byte
	// Diagnostics is the combined stdout/stderr of the toolchain run. It is
	// populated on failure too, via the returned AppError context.
	Diagnostics string
}

// Compiler runs a LaTeX toolchain against candidate sources in an isolated
// scratch directory. The working tree is never touched.
type Compiler struct {
	command string
	timeout time.Duration
	logger  *rterrors.Logger
}

// NewCompiler creates a Compiler using the given toolchain command
// (typically pdflatex) and per-run timeout.
func NewCompiler(command string, timeout time.Duration, logger *rterrors.Logger) *Compiler {
	return &Compiler{
		command: command,
		timeout: timeout,
		logger:  logger,
	}
}

// Compile writes source to a temp directory, runs the toolchain in
// non-interactive mode, and returns the produced PDF. Compilation failures
// return a COMPILE_FAILURE error carrying the toolchain diagnostics; the
// caller decides what to do with the rejected source.
func (c *Compiler) Compile(ctx context.Context, source string) (*Result, error) {
	tmpDir, err := os.MkdirTemp("", "resumetailor-compile-*")
	if err != nil {
		return nil, rterrors.NewIOError(rterrors.ErrCodeFileNotReadable,
			"Failed to create scratch directory for compilation", err)
	}
	defer os.RemoveAll(tmpDir)

	texPath := filepath.Join(tmpDir, "resume.tex")
	if err := os.WriteFile(texPath, []byte(source), 0o600); err != nil {
		return nil, rterrors.NewIOError(rterrors.ErrCodeFileNotReadable,
			"Failed to write candidate source for compilation", err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(runCtx, c.command,
		"-interaction=nonstopmode",
		"-output-directory", tmpDir,
		texPath)
	cmd.Dir = tmpDir

	output, runErr := cmd.CombinedOutput()
	diagnostics := string(output)
	elapsed := time.Since(start)

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("LaTeX compilation timed out",
				"command", c.command,
				"timeout", c.timeout.String())
			return nil, rterrors.NewCompileError(rterrors.ErrCodeCompileTimeout,
				fmt.Sprintf("LaTeX compilation exceeded %s", c.timeout), runErr).
				WithContext("diagnostics", tailLines(diagnostics, 50))
		}

		var execErr *exec.Error
		if errors.As(runErr, &execErr) {
			return nil, rterrors.NewCompileError(rterrors.ErrCodeCompileFailure,
				fmt.Sprintf("LaTeX toolchain %q is not available", c.command), runErr)
		}

		c.logger.Warn("LaTeX compilation failed",
			"command", c.command,
			"duration", elapsed.String())
		return nil, rterrors.NewCompileError(rterrors.ErrCodeCompileFailure,
			"LaTeX compilation failed", runErr).
			WithContext("diagnostics", tailLines(diagnostics, 50))
	}

	pdfPath := filepath.Join(tmpDir, "resume.pdf")
	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		// A zero exit status without a PDF still counts as a failed run.
		return nil, rterrors.NewCompileError(rterrors.ErrCodeCompileFailure,
			"LaTeX toolchain reported success but produced no PDF", err).
			WithContext("diagnostics", tailLines(diagnostics, 50))
	}

	c.logger.Debug("LaTeX compilation succeeded",
		"duration", elapsed.String(),
		"pdf_bytes", len(pdf))

	return &Result{PDF: pdf, Diagnostics: diagnostics}, nil
}

// tailLines keeps the last n lines of toolchain output, where the error
// summary lives.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
