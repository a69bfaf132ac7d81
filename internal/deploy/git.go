package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/fixjam/internal/executor"
)

// SourceControl is what the deployer needs from version control.
type SourceControl interface {
	// Revision resolves the branch being deployed to an exact revision.
	Revision(ctx context.Context) (string, error)
	// Push publishes local commits so the target host can fetch them.
	Push(ctx context.Context) error
	// Clone materializes revision into dest on the target host.
	Clone(ctx context.Context, dest, revision string) error
}

// Git runs git locally for Revision and Push and on the target host for
// Clone.
type Git struct {
	local  executor.Executor
	target executor.Executor
	repo   string
	remote string
	branch string
	logger *slog.Logger
}

var _ SourceControl = (*Git)(nil)

func NewGit(local, target executor.Executor, repo, remote, branch string, logger *slog.Logger) *Git {
	return &Git{local: local, target: target, repo: repo, remote: remote, branch: branch, logger: logger}
}

func (g *Git) Revision(ctx context.Context) (string, error) {
	rev, err := executor.Run(ctx, g.local, "", "git rev-parse --verify "+executor.Quote(g.branch))
	if err != nil {
		return "", fmt.Errorf("git: resolving %s: %w", g.branch, err)
	}
	if rev == "" {
		return "", fmt.Errorf("git: %s resolved to nothing", g.branch)
	}
	return rev, nil
}

func (g *Git) Push(ctx context.Context) error {
	g.logger.Info("pushing", slog.String("remote", g.remote), slog.String("branch", g.branch))
	cmd := fmt.Sprintf("git push %s %s", executor.Quote(g.remote), executor.Quote(g.branch))
	if _, err := g.local.Execute(ctx, executor.ExecutionRequest{Command: cmd}); err != nil {
		return fmt.Errorf("git: pushing: %w", err)
	}
	return nil
}

// Clone checks out the full history and then hard-resets to revision, so
// the tree is exactly that revision whatever the remote's HEAD is.
func (g *Git) Clone(ctx context.Context, dest, revision string) error {
	g.logger.Info("cloning", slog.String("repo", g.repo), slog.String("dest", dest), slog.String("revision", revision))
	clone := fmt.Sprintf("git clone --quiet %s %s", executor.Quote(g.repo), executor.Quote(dest))
	if _, err := g.target.Execute(ctx, executor.ExecutionRequest{Command: clone}); err != nil {
		return fmt.Errorf("git: cloning %s: %w", g.repo, err)
	}
	reset := "git reset --quiet --hard " + executor.Quote(revision)
	if _, err := g.target.Execute(ctx, executor.ExecutionRequest{Command: reset, Dir: dest}); err != nil {
		return fmt.Errorf("git: checking out %s: %w", revision, err)
	}
	return nil
}
