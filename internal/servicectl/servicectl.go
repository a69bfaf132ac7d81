// Package servicectl restarts the service that serves the current release.
//
// A restart always follows the symlink cutover, so the service reloads into
// the new release.
package servicectl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/fixjam/internal/executor"
)

// Controller restarts one service.
type Controller interface {
	Restart(ctx context.Context) error
}

// Shell reloads a service with a graceful command and, when that fails
// (typically because the service is not running), starts it cold. With the
// defaults this is "apache2ctl graceful || apache2ctl start".
type Shell struct {
	host     executor.Executor
	graceful string
	start    string
	logger   *slog.Logger
}

var _ Controller = (*Shell)(nil)

func NewShell(host executor.Executor, graceful, start string, logger *slog.Logger) *Shell {
	return &Shell{host: host, graceful: graceful, start: start, logger: logger}
}

func (s *Shell) Restart(ctx context.Context) error {
	s.logger.Info("reloading service", slog.String("command", s.graceful))
	_, err := s.host.Execute(ctx, executor.ExecutionRequest{Command: s.graceful})
	if err == nil {
		return nil
	}

	var exitErr *executor.ExitError
	if !errors.As(err, &exitErr) || s.start == "" {
		return fmt.Errorf("servicectl: graceful reload: %w", err)
	}

	s.logger.Warn("graceful reload failed, starting cold",
		slog.String("command", s.start),
		slog.Int("exitCode", exitErr.Result.ExitCode),
	)
	if _, err := s.host.Execute(ctx, executor.ExecutionRequest{Command: s.start}); err != nil {
		return fmt.Errorf("servicectl: cold start: %w", err)
	}
	return nil
}
