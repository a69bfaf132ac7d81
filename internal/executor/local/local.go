// Package local implements executor.Host on the machine the binary runs on.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/sakif/fixjam/internal/executor"
)

// Host runs commands with /bin/sh and touches the local filesystem.
type Host struct {
	shell  string
	logger *slog.Logger
}

var _ executor.Host = (*Host)(nil)

func New(logger *slog.Logger) *Host {
	return &Host{shell: "/bin/sh", logger: logger}
}

// Execute runs req.Command through the shell.
func (h *Host) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, h.shell, "-c", req.Command)
	cmd.Dir = req.Dir
	if req.Stdin != nil {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h.logger.Debug("running command", slog.String("command", req.Command), slog.String("dir", req.Dir))
	err := cmd.Run()

	res := &executor.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, &executor.ExitError{Command: req.Command, Result: res}
	case err != nil:
		return nil, fmt.Errorf("local: running %q: %w", req.Command, err)
	}
	return res, nil
}

// Exists does not follow symlinks: a dangling link exists.
func (h *Host) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("local: stat %s: %w", path, err)
	}
	return true, nil
}

func (h *Host) RemoveAll(_ context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("local: removing %s: %w", path, err)
	}
	return nil
}

func (h *Host) MkdirAll(_ context.Context, path string, perm fs.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("local: creating %s: %w", path, err)
	}
	return nil
}

// Symlink replaces a file or link at link. A real directory there is an
// error rather than a place to put the link.
func (h *Host) Symlink(_ context.Context, target, link string) error {
	fi, err := os.Lstat(link)
	switch {
	case err == nil && fi.IsDir():
		return fmt.Errorf("local: linking %s: is a directory", link)
	case err == nil:
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("local: replacing %s: %w", link, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("local: stat %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("local: linking %s -> %s: %w", link, target, err)
	}
	return nil
}

// Rename is rename(2), which replaces a symlink at to atomically.
func (h *Host) Rename(_ context.Context, from, to string) error {
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("local: renaming %s to %s: %w", from, to, err)
	}
	return nil
}

func (h *Host) ReadLink(_ context.Context, path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("local: reading link %s: %w", path, err)
	}
	return target, nil
}

func (h *Host) ReadFile(_ context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("local: reading %s: %w", path, err)
	}
	return b, nil
}

func (h *Host) ListDir(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("local: listing %s: %w", path, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}
