// Package ssh implements executor.Host on a remote machine over SSH.
//
// Every operation is a shell command in its own SSH session. The remote
// side needs a POSIX shell and GNU coreutils (mv -T, find -printf).
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sakif/fixjam/internal/executor"
)

// Config says where and as whom to connect.
type Config struct {
	// Addr is "user@host" or "user@host:port".
	Addr    string
	KeyPath string
	// KnownHosts is a known_hosts file. Empty means ~/.ssh/known_hosts.
	// Unknown or changed host keys are refused.
	KnownHosts string
	Timeout    time.Duration
}

// Host is a remote executor.Host.
type Host struct {
	client *ssh.Client
	runner executor.Executor
	logger *slog.Logger
}

var _ executor.Host = (*Host)(nil)

// Dial connects and authenticates with the private key at cfg.KeyPath.
func Dial(cfg Config, logger *slog.Logger) (*Host, error) {
	user, addr, err := ParseAddr(cfg.Addr)
	if err != nil {
		return nil, err
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh: reading key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("ssh: parsing key %s: %w", cfg.KeyPath, err)
	}

	knownHostsPath := cfg.KnownHosts
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("ssh: locating known_hosts: %w", err)
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}
	hostKeys, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("ssh: loading %s: %w", knownHostsPath, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh: connecting to %s: %w", addr, err)
	}

	logger.Info("connected", slog.String("host", addr), slog.String("user", user))
	return New(client, logger), nil
}

// New wraps an established client.
func New(client *ssh.Client, logger *slog.Logger) *Host {
	return &Host{
		client: client,
		runner: &sessionRunner{client: client},
		logger: logger,
	}
}

func (h *Host) Close() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

// ParseAddr splits "user@host[:port]" into the user and a dialable address.
func ParseAddr(s string) (user, addr string, err error) {
	user, hostport, ok := strings.Cut(s, "@")
	if !ok || user == "" || hostport == "" {
		return "", "", fmt.Errorf("ssh: address %q is not user@host[:port]", s)
	}
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		hostport = net.JoinHostPort(hostport, "22")
	}
	return user, hostport, nil
}

func (h *Host) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	h.logger.Debug("running remote command", slog.String("command", req.Command), slog.String("dir", req.Dir))
	return h.runner.Execute(ctx, req)
}

func (h *Host) run(ctx context.Context, format string, paths ...any) (*executor.ExecutionResult, error) {
	quoted := make([]any, len(paths))
	for i, p := range paths {
		quoted[i] = executor.Quote(fmt.Sprint(p))
	}
	return h.Execute(ctx, executor.ExecutionRequest{Command: fmt.Sprintf(format, quoted...)})
}

func (h *Host) Exists(ctx context.Context, path string) (bool, error) {
	_, err := h.run(ctx, "test -e %[1]s || test -L %[1]s", path)
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) && exitErr.Result.ExitCode == 1 {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (h *Host) RemoveAll(ctx context.Context, path string) error {
	_, err := h.run(ctx, "rm -rf %s", path)
	return err
}

func (h *Host) MkdirAll(ctx context.Context, path string, perm fs.FileMode) error {
	_, err := h.Execute(ctx, executor.ExecutionRequest{
		Command: fmt.Sprintf("mkdir -p -m %o %s", uint32(perm.Perm()), executor.Quote(path)),
	})
	return err
}

func (h *Host) Symlink(ctx context.Context, target, link string) error {
	_, err := h.run(ctx,
		`if [ -d %[2]s ] && [ ! -L %[2]s ]; then echo "is a directory" >&2; exit 1; fi; ln -nfs %[1]s %[2]s`,
		target, link)
	return err
}

// Rename uses mv -T so a symlink to a directory at to is replaced, not
// entered.
func (h *Host) Rename(ctx context.Context, from, to string) error {
	_, err := h.run(ctx, "mv -Tf %s %s", from, to)
	return err
}

func (h *Host) ReadLink(ctx context.Context, path string) (string, error) {
	res, err := h.run(ctx, "readlink %s", path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(res.Stdout, "\n"), nil
}

func (h *Host) ReadFile(ctx context.Context, path string) ([]byte, error) {
	res, err := h.run(ctx, "cat %s", path)
	if err != nil {
		return nil, err
	}
	return []byte(res.Stdout), nil
}

func (h *Host) ListDir(ctx context.Context, path string) ([]string, error) {
	res, err := h.run(ctx, `find %s -mindepth 1 -maxdepth 1 -printf '%%f\n' | LC_ALL=C sort`, path)
	if err != nil {
		return nil, err
	}
	out := strings.TrimRight(res.Stdout, "\n")
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// sessionRunner runs each command in a fresh SSH session.
type sessionRunner struct {
	client *ssh.Client
}

func (s *sessionRunner) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	start := time.Now()

	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: opening session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if req.Stdin != nil {
		session.Stdin = bytes.NewReader(req.Stdin)
	}

	command := req.Command
	if req.Dir != "" {
		command = fmt.Sprintf("cd %s && %s", executor.Quote(req.Dir), command)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, fmt.Errorf("ssh: %q: %w", req.Command, ctx.Err())
	}

	res := &executor.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	var exitErr *ssh.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, &executor.ExitError{Command: req.Command, Result: res}
	case err != nil:
		return nil, fmt.Errorf("ssh: running %q: %w", req.Command, err)
	}
	return res, nil
}
