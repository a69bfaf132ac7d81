// Package executor abstracts the machine a deploy runs on.
//
// A Host runs shell commands and offers the handful of filesystem
// primitives the deployer needs. executor/local implements it on this
// machine; executor/ssh implements it on a remote one. Everything above this
// package is written against Host and never knows which it has.
package executor

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// ExecutionRequest is one shell command.
type ExecutionRequest struct {
	// Command is run by /bin/sh -c.
	Command string
	// Dir is the working directory. Empty means the host's default.
	Dir string
	// Stdin is fed to the command when non-nil.
	Stdin []byte
}

// ExecutionResult represents the output and status of a command.
type ExecutionResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// Executor runs shell commands.
//
// A command that exits non-zero returns its result together with an
// *ExitError. Any other error means the command could not be run at all.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// Host is an Executor plus filesystem primitives. Paths are absolute paths
// on the host.
type Host interface {
	Executor

	Exists(ctx context.Context, path string) (bool, error)
	RemoveAll(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string, perm fs.FileMode) error

	// Symlink makes link point at target, replacing an existing link
	// (ln -nfs). It never follows an existing link into a directory.
	Symlink(ctx context.Context, target, link string) error

	// Rename moves from onto to in one step. An existing symlink at to is
	// replaced, never descended into.
	Rename(ctx context.Context, from, to string) error

	ReadLink(ctx context.Context, path string) (string, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// ListDir returns the names of the entries of path, sorted.
	ListDir(ctx context.Context, path string) ([]string, error)
}

// ExitError reports a command that ran and failed.
type ExitError struct {
	Command string
	Result  *ExecutionResult
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("executor: %q exited with status %d", e.Command, e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Run executes command in dir and returns its trimmed stdout.
func Run(ctx context.Context, e Executor, dir, command string) (string, error) {
	res, err := e.Execute(ctx, ExecutionRequest{Command: command, Dir: dir})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Quote makes s a single shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./_-", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
