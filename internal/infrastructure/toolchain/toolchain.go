package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"bounty-chain.backend/internal/config"
	"bounty-chain.backend/pkg/logger"
)

var (
	ErrInvalidSource   = errors.New("invalid source url")
	ErrCloneFailed     = errors.New("clone failed")
	ErrCompileFailed   = errors.New("compile failed")
	ErrToolUnavailable = errors.New("tool unavailable")
)

// Toolchain shells out to git, the Solidity compiler and the static analyzer
// with bounded timeouts and capped output.
type Toolchain struct {
	cfg config.ToolchainConfig
}

func New(cfg config.ToolchainConfig) *Toolchain {
	return &Toolchain{cfg: cfg}
}

// Clone validates the source URL, wipes the job's checkout directory and
// shallow-clones the ref into it.
func (t *Toolchain) Clone(ctx context.Context, jobID, sourceURL, ref string) (string, error) {
	if err := t.validateSource(sourceURL); err != nil {
		return "", err
	}
	dest := filepath.Join(t.cfg.WorkDir, jobID)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("%w: clean %s: %s", ErrCloneFailed, dest, err.Error())
	}
	if err := os.MkdirAll(t.cfg.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %s", ErrCloneFailed, err.Error())
	}

	if ref == "" {
		ref = "main"
	}
	_, stderr, err := t.run(ctx, t.cfg.CloneTimeout, "",
		t.cfg.GitBinary, "clone", "--depth", "1", "--branch", ref, sourceURL, dest)
	if err != nil {
		// a commit hash is not a branch; fall back to a full clone + checkout
		if rmErr := os.RemoveAll(dest); rmErr != nil {
			return "", fmt.Errorf("%w: %s", ErrCloneFailed, rmErr.Error())
		}
		if _, stderr2, err2 := t.run(ctx, t.cfg.CloneTimeout, "",
			t.cfg.GitBinary, "clone", sourceURL, dest); err2 != nil {
			return "", fmt.Errorf("%w: %s", ErrCloneFailed, firstLine(stderr2, stderr))
		}
		if _, stderr3, err3 := t.run(ctx, t.cfg.CloneTimeout, dest,
			t.cfg.GitBinary, "checkout", ref); err3 != nil {
			return "", fmt.Errorf("%w: checkout %s: %s", ErrCloneFailed, ref, firstLine(stderr3, nil))
		}
	}
	return dest, nil
}

// InitSubmodules is best-effort; missing or broken submodules never fail the
// pipeline.
func (t *Toolchain) InitSubmodules(ctx context.Context, dir string) {
	if _, stderr, err := t.run(ctx, t.cfg.CloneTimeout, dir,
		t.cfg.GitBinary, "submodule", "update", "--init", "--recursive", "--depth", "1"); err != nil {
		logger.Warn(ctx, "submodule init failed", zap.String("dir", dir), zap.String("stderr", firstLine(stderr, nil)))
	}
}

// Cleanup removes a checkout directory.
func (t *Toolchain) Cleanup(dir string) {
	if dir == "" || !strings.HasPrefix(dir, t.cfg.WorkDir) {
		return
	}
	_ = os.RemoveAll(dir)
}

func (t *Toolchain) validateSource(sourceURL string) error {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSource, err.Error())
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidSource, u.Scheme)
	}
	if !strings.EqualFold(u.Host, t.cfg.AllowedGitHost) {
		return fmt.Errorf("%w: host %q not allowed", ErrInvalidSource, u.Host)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrInvalidSource)
	}
	return nil
}

// run executes a command with a timeout, capturing stdout and stderr up to
// the configured cap.
func (t *Toolchain) run(ctx context.Context, timeout time.Duration, dir, bin string, args ...string) ([]byte, []byte, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &cappedWriter{buf: &stdout, cap: t.cfg.OutputCapBytes}
	cmd.Stderr = &cappedWriter{buf: &stderr, cap: t.cfg.OutputCapBytes}

	err := cmd.Run()
	if errors.Is(err, exec.ErrNotFound) {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%w: %s", ErrToolUnavailable, bin)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// cappedWriter discards everything past cap bytes. Compiler and analyzer
// output on pathological inputs can run to gigabytes.
type cappedWriter struct {
	buf *bytes.Buffer
	cap int64
	n   int64
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	remain := w.cap - w.n
	if remain <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > remain {
		w.buf.Write(p[:remain])
		w.n = w.cap
		return len(p), nil
	}
	w.buf.Write(p)
	w.n += int64(len(p))
	return len(p), nil
}

func firstLine(b []byte, fallback []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		s = strings.TrimSpace(string(fallback))
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		s = "unknown error"
	}
	return s
}
