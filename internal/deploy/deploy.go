// Package deploy manages release directories and the symlink that selects
// the live one.
//
// LAYOUT (under Config.ProjectDir):
//
//	releases/<name>/   one checkout per release, never reused
//	current            symlink to releases/<name>
//	current_tmp        transient, only during a cutover
//	log/ packages/ bin/
//
// FLOW:
//  1. Upload clones the revision into a fresh releases/<name>.
//  2. Prepare links settings in, runs the prepare commands and installs the
//     release's crontab.
//  3. SwitchSymlink points current at the release in one rename.
//  4. The service is restarted, so it reads the new release.
//
// A failure before step 3 leaves current untouched. Deploys against the
// same host must not run concurrently; nothing here locks.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/executor"
	"github.com/sakif/fixjam/internal/servicectl"
)

const (
	releasesDirName = "releases"
	currentName     = "current"
	currentTmpName  = "current_tmp"
)

// Config describes one project on one host. Paths other than ProjectDir and
// ArchiveDir are relative: SettingsFiles to ProjectDir (unless absolute),
// AppSubdir and CrontabPath to the release directory.
type Config struct {
	ProjectDir string
	User       string
	Group      string

	AppSubdir       string
	SettingsFiles   []string
	PrepareCommands []string

	// CrontabPath empty means the project ships no crontab.
	CrontabPath string
	// CrontabCommand reads the new crontab on stdin. Default "crontab -".
	CrontabCommand string

	// ArchiveDir is a directory on the operator's machine that may hold a
	// build archive <name>.tar.gz.
	ArchiveDir string
}

// Deps are the collaborators of a Deployer. Service may be nil for a
// Deployer that is never asked to restart.
type Deps struct {
	Host    executor.Host
	Local   executor.Host
	Source  SourceControl
	Service servicectl.Controller
	Logger  *slog.Logger
	Now     func() time.Time
}

// Deployer runs one deploy invocation. Its run time is captured when it is
// created and the revision is resolved once, so every step agrees on the
// release name.
type Deployer struct {
	cfg     Config
	host    executor.Host
	local   executor.Host
	source  SourceControl
	service servicectl.Controller
	logger  *slog.Logger

	runTime  time.Time
	revision string
}

func New(cfg Config, deps Deps) *Deployer {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.CrontabCommand == "" {
		cfg.CrontabCommand = "crontab -"
	}
	return &Deployer{
		cfg:     cfg,
		host:    deps.Host,
		local:   deps.Local,
		source:  deps.Source,
		service: deps.Service,
		logger:  deps.Logger,
		runTime: now(),
	}
}

// ReleaseName is the name this invocation deploys under.
func (d *Deployer) ReleaseName(ctx context.Context) (string, error) {
	if d.revision == "" {
		rev, err := d.source.Revision(ctx)
		if err != nil {
			return "", fmt.Errorf("deploy: resolving revision: %w", err)
		}
		d.revision = rev
	}
	return ReleaseName(d.runTime, d.revision), nil
}

// Setup creates the project skeleton. Running it again changes nothing.
func (d *Deployer) Setup(ctx context.Context) error {
	for _, dir := range []string{releasesDirName, "packages", "bin", "log"} {
		if err := d.host.MkdirAll(ctx, path.Join(d.cfg.ProjectDir, dir), 0o775); err != nil {
			return fmt.Errorf("deploy: setup: %w", err)
		}
	}
	if err := d.setPermissions(ctx, d.cfg.ProjectDir); err != nil {
		return fmt.Errorf("deploy: setup: %w", err)
	}
	logDir := path.Join(d.cfg.ProjectDir, "log")
	if _, err := d.host.Execute(ctx, executor.ExecutionRequest{Command: "chmod g+s " + executor.Quote(logDir)}); err != nil {
		return fmt.Errorf("deploy: setup: %w", err)
	}
	d.logger.Info("project directory ready", slog.String("dir", d.cfg.ProjectDir))
	return nil
}

// Upload materializes the revision into a fresh release directory and
// returns the release name. A directory left by an earlier failed attempt
// is removed first, never reused.
func (d *Deployer) Upload(ctx context.Context) (string, error) {
	name, err := d.ReleaseName(ctx)
	if err != nil {
		return "", err
	}
	dir, err := d.releaseDir(name)
	if err != nil {
		return "", err
	}

	exists, err := d.host.Exists(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("deploy: checking %s: %w", dir, err)
	}
	if exists {
		d.logger.Warn("removing stale release directory", slog.String("dir", dir))
		if err := d.host.RemoveAll(ctx, dir); err != nil {
			return "", fmt.Errorf("deploy: removing stale release: %w", err)
		}
	}

	d.logger.Info("uploading release", slog.String("release", name))
	if err := d.source.Clone(ctx, dir, d.revision); err != nil {
		return "", fmt.Errorf("deploy: uploading %s: %w", name, err)
	}
	if err := d.setPermissions(ctx, dir); err != nil {
		return "", fmt.Errorf("deploy: uploading %s: %w", name, err)
	}
	return name, nil
}

// Prepare makes an uploaded release ready to serve. The first failing step
// aborts the rest; current is never touched.
func (d *Deployer) Prepare(ctx context.Context, name string) error {
	dir, err := d.releaseDir(name)
	if err != nil {
		return err
	}
	appDir := path.Join(dir, d.cfg.AppSubdir)

	d.logger.Info("linking settings", slog.String("release", name), slog.Int("files", len(d.cfg.SettingsFiles)))
	for _, f := range d.cfg.SettingsFiles {
		target := f
		if !path.IsAbs(target) {
			target = path.Join(d.cfg.ProjectDir, target)
		}
		if err := d.host.Symlink(ctx, target, path.Join(appDir, path.Base(target))); err != nil {
			return fmt.Errorf("deploy: preparing %s: %w", name, err)
		}
	}

	for _, cmd := range d.cfg.PrepareCommands {
		d.logger.Info("running prepare step", slog.String("release", name), slog.String("command", cmd))
		if _, err := d.host.Execute(ctx, executor.ExecutionRequest{Command: cmd, Dir: appDir}); err != nil {
			return fmt.Errorf("deploy: preparing %s: %w", name, err)
		}
	}

	if err := d.installCrontab(ctx, dir); err != nil {
		return fmt.Errorf("deploy: preparing %s: %w", name, err)
	}
	return nil
}

// installCrontab replaces the installed crontab wholesale with the
// release's. The last prepared release wins.
func (d *Deployer) installCrontab(ctx context.Context, dir string) error {
	if d.cfg.CrontabPath == "" {
		return nil
	}
	file := path.Join(dir, d.cfg.CrontabPath)
	content, err := d.host.ReadFile(ctx, file)
	if err != nil {
		return fmt.Errorf("reading crontab: %w", err)
	}
	if err := ValidateCrontab(content); err != nil {
		return err
	}
	d.logger.Info("installing crontab", slog.String("file", file))
	if _, err := d.host.Execute(ctx, executor.ExecutionRequest{Command: d.cfg.CrontabCommand, Stdin: content}); err != nil {
		return fmt.Errorf("installing crontab: %w", err)
	}
	return nil
}

// SwitchSymlink points current at the release. A new link is made at
// current_tmp and renamed over current, so readers see either the old
// release or the new one and never a missing link. If the rename fails the
// old link is still in place.
func (d *Deployer) SwitchSymlink(ctx context.Context, name string) error {
	dir, err := d.releaseDir(name)
	if err != nil {
		return err
	}
	ok, err := d.host.Exists(ctx, dir)
	if err != nil {
		return fmt.Errorf("deploy: checking %s: %w", dir, err)
	}
	if !ok {
		return apperror.Precondition(fmt.Sprintf("release %s does not exist", name))
	}

	tmp := path.Join(d.cfg.ProjectDir, currentTmpName)
	if err := d.host.RemoveAll(ctx, tmp); err != nil {
		return fmt.Errorf("deploy: clearing %s: %w", tmp, err)
	}
	if err := d.host.Symlink(ctx, dir, tmp); err != nil {
		return fmt.Errorf("deploy: switching to %s: %w", name, err)
	}
	if err := d.host.Rename(ctx, tmp, d.currentLink()); err != nil {
		return fmt.Errorf("deploy: switching to %s: %w", name, err)
	}
	d.logger.Info("current release switched", slog.String("release", name))
	return nil
}

// Cleanup removes the local build archive of the release, if any.
func (d *Deployer) Cleanup(ctx context.Context, name string) error {
	if d.local == nil || d.cfg.ArchiveDir == "" {
		return nil
	}
	archive := path.Join(d.cfg.ArchiveDir, name+".tar.gz")
	ok, err := d.local.Exists(ctx, archive)
	if err != nil {
		return fmt.Errorf("deploy: cleanup: %w", err)
	}
	if !ok {
		return nil
	}
	d.logger.Info("removing build archive", slog.String("file", archive))
	if err := d.local.RemoveAll(ctx, archive); err != nil {
		return fmt.Errorf("deploy: cleanup: %w", err)
	}
	return nil
}

// Restart restarts the service after a cutover.
func (d *Deployer) Restart(ctx context.Context) error {
	if d.service == nil {
		return apperror.Precondition("no service controller configured")
	}
	if err := d.service.Restart(ctx); err != nil {
		return fmt.Errorf("deploy: restarting service: %w", err)
	}
	return nil
}

// Deploy is the full one-host deploy without a restart.
func (d *Deployer) Deploy(ctx context.Context) (string, error) {
	name, err := d.Upload(ctx)
	if err != nil {
		return "", err
	}
	if err := d.Prepare(ctx, name); err != nil {
		return name, err
	}
	if err := d.SwitchSymlink(ctx, name); err != nil {
		return name, err
	}
	return name, d.Cleanup(ctx, name)
}

// PrepNew is the first half of a two-phase deploy: it stages a release
// without making it live. Activate finishes it.
func (d *Deployer) PrepNew(ctx context.Context) (string, error) {
	if err := d.source.Push(ctx); err != nil {
		return "", fmt.Errorf("deploy: %w", err)
	}
	name, err := d.Upload(ctx)
	if err != nil {
		return "", err
	}
	if err := d.Prepare(ctx, name); err != nil {
		return name, err
	}
	return name, nil
}

// Activate makes a staged release live and restarts the service.
func (d *Deployer) Activate(ctx context.Context, name string) error {
	if err := d.SwitchSymlink(ctx, name); err != nil {
		return err
	}
	if err := d.Restart(ctx); err != nil {
		return err
	}
	return d.Cleanup(ctx, name)
}

// SimpleDeploy pushes, deploys and restarts.
func (d *Deployer) SimpleDeploy(ctx context.Context) (string, error) {
	if err := d.source.Push(ctx); err != nil {
		return "", fmt.Errorf("deploy: %w", err)
	}
	name, err := d.Deploy(ctx)
	if err != nil {
		return name, err
	}
	return name, d.Restart(ctx)
}

func (d *Deployer) releasesDir() string {
	return path.Join(d.cfg.ProjectDir, releasesDirName)
}

func (d *Deployer) currentLink() string {
	return path.Join(d.cfg.ProjectDir, currentName)
}

// releaseDir maps a name to its directory. The result is always a direct
// child of releases/.
func (d *Deployer) releaseDir(name string) (string, error) {
	if name == "" {
		return "", apperror.Precondition("release name is required")
	}
	root := d.releasesDir()
	dir := path.Join(root, name)
	if path.Dir(dir) != root || strings.HasPrefix(name, ".") {
		return "", apperror.Precondition(fmt.Sprintf("release name %q escapes %s", name, root))
	}
	return dir, nil
}

// setPermissions gives the service group write access to dir.
func (d *Deployer) setPermissions(ctx context.Context, dir string) error {
	q := executor.Quote(dir)
	cmd := "chmod -R g+w " + q
	if d.cfg.User != "" && d.cfg.Group != "" {
		cmd = fmt.Sprintf("chown -R %s %s && %s", executor.Quote(d.cfg.User+":"+d.cfg.Group), q, cmd)
	}
	if _, err := d.host.Execute(ctx, executor.ExecutionRequest{Command: cmd}); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", dir, err)
	}
	return nil
}
