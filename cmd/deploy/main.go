// Package main is the operator's deploy tool.
//
// Usage:
//
//	deploy setup                      # create releases/, log/, ... on the host
//	deploy deploy                     # upload, prepare, switch current
//	deploy simple-deploy              # git push, deploy, restart
//	deploy deploy-prep                # git push, upload, prepare; prints the name
//	deploy deploy-activate <release>  # switch current, restart, clean up
//	deploy list-releases [-n 10]      # newest releases, current marked with *
//	deploy restart                    # restart the service only
//	deploy service <task>             # run a DEPLOY_SERVICES task, e.g. nginx.reload
//	deploy provision-db               # create the Postgres role and database
//
// The target host and project come from DEPLOY_* variables (see
// internal/config). With DEPLOY_HOST unset everything runs locally.
// -stage dev|staging|production loads .env.<stage> on top of .env:
//
//	deploy -stage staging simple-deploy
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/sakif/fixjam/internal/config"
	"github.com/sakif/fixjam/internal/deploy"
	"github.com/sakif/fixjam/internal/executor"
	"github.com/sakif/fixjam/internal/executor/local"
	sshHost "github.com/sakif/fixjam/internal/executor/ssh"
	"github.com/sakif/fixjam/internal/provision"
	"github.com/sakif/fixjam/internal/servicectl"
	"github.com/sakif/fixjam/internal/servicectl/docker"
)

var errUsage = errors.New("usage: deploy [-stage name] <setup|deploy|simple-deploy|deploy-prep|deploy-activate|list-releases|restart|service|provision-db> [args]")

func main() {
	cfg, args, err := loadConfig(os.Args[1:])
	if err != nil {
		slog.Error("loading configuration", slog.String("error", err.Error()))
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, args[0], args[1:], os.Stdout); err != nil {
		logger.Error(args[0]+" failed", slog.String("error", err.Error()))
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// loadConfig parses the global flags and loads the configuration for the
// chosen stage. It returns the command and its arguments.
func loadConfig(args []string) (*config.Config, []string, error) {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	stage := fs.String("stage", "", "load .env.<stage> before .env (dev, staging, production)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), errUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() == 0 {
		return nil, nil, errUsage
	}

	cfg, err := config.LoadStage(*stage)
	if err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd string, args []string, out io.Writer) error {
	if cmd == "provision-db" {
		return provisionDB(ctx, cfg, logger, out)
	}

	if err := cfg.ValidateDeploy(); err != nil {
		return err
	}

	host, closeHost, err := openHost(cfg.Deploy, logger)
	if err != nil {
		return err
	}
	defer closeHost()

	service, closeService, err := openController(cfg.Deploy, host, logger)
	if err != nil {
		return err
	}
	defer closeService()

	localHost := local.New(logger)
	d := deploy.New(deploy.Config{
		ProjectDir:      cfg.Deploy.ProjectDir,
		User:            cfg.Deploy.User,
		Group:           cfg.Deploy.Group,
		AppSubdir:       cfg.Deploy.AppSubdir,
		SettingsFiles:   cfg.Deploy.SettingsFiles,
		PrepareCommands: cfg.Deploy.PrepareCommands,
		CrontabPath:     cfg.Deploy.CrontabPath,
		CrontabCommand:  cfg.Deploy.CrontabCommand,
		ArchiveDir:      cfg.Deploy.ArchiveDir,
	}, deploy.Deps{
		Host:    host,
		Local:   localHost,
		Source:  deploy.NewGit(localHost, host, cfg.Deploy.Repo, cfg.Deploy.Remote, cfg.Deploy.Branch, logger),
		Service: service,
		Logger:  logger,
	})

	switch cmd {
	case "setup":
		return d.Setup(ctx)
	case "deploy":
		name, err := d.Deploy(ctx)
		if err == nil {
			fmt.Fprintln(out, name)
		}
		return err
	case "simple-deploy":
		name, err := d.SimpleDeploy(ctx)
		if err == nil {
			fmt.Fprintln(out, name)
		}
		return err
	case "deploy-prep":
		name, err := d.PrepNew(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, name)
		fmt.Fprintf(out, "activate with: deploy deploy-activate %s\n", name)
		return nil
	case "deploy-activate":
		if len(args) != 1 {
			return fmt.Errorf("%w: deploy-activate takes one release name", errUsage)
		}
		return d.Activate(ctx, args[0])
	case "list-releases":
		return listReleases(ctx, d, args, out)
	case "restart":
		return d.Restart(ctx)
	case "service":
		return runService(ctx, cfg.Deploy, host, logger, args)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func listReleases(ctx context.Context, d *deploy.Deployer, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list-releases", flag.ContinueOnError)
	limit := fs.Int("n", deploy.DefaultListLimit, "number of releases to show")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	releases, err := d.ListReleases(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range releases {
		mark := " "
		if r.Current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, r.Time.Format("2006-01-02 15:04:05"), r.Revision, r.Name)
	}
	return tw.Flush()
}

// runService runs one named DEPLOY_SERVICES task on the target host.
func runService(ctx context.Context, cfg config.DeployConfig, host executor.Host, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: service takes one task name (%s)", errUsage, strings.Join(cfg.ServiceNames(), ", "))
	}
	cmd, ok := cfg.Service(args[0])
	if !ok {
		return fmt.Errorf("%w: unknown service task %q (%s)", errUsage, args[0], strings.Join(cfg.ServiceNames(), ", "))
	}
	logger = logger.With(slog.String("task", args[0]))
	return servicectl.NewShell(host, cmd.Command, cmd.Fallback, logger).Restart(ctx)
}

// openHost picks the local machine or an ssh connection.
func openHost(cfg config.DeployConfig, logger *slog.Logger) (executor.Host, func(), error) {
	if cfg.Host == "" {
		return local.New(logger), func() {}, nil
	}
	h, err := sshHost.Dial(sshHost.Config{
		Addr:       cfg.Host,
		KeyPath:    cfg.SSHKeyPath,
		KnownHosts: cfg.KnownHosts,
		Timeout:    cfg.SSHTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return h, func() { h.Close() }, nil
}

func openController(cfg config.DeployConfig, host executor.Host, logger *slog.Logger) (servicectl.Controller, func(), error) {
	if cfg.RestartMode == "docker" {
		c, err := docker.New(cfg.Container, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
	return servicectl.NewShell(host, cfg.GracefulCommand, cfg.StartCommand, logger), func() {}, nil
}

func provisionDB(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	if err := cfg.ValidateProvision(); err != nil {
		return err
	}
	p, err := provision.Connect(ctx, cfg.Provision.PostgresURL, logger)
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	res, err := p.Provision(ctx, provision.Database{
		Name:     cfg.Provision.DBName,
		Owner:    cfg.Provision.DBOwner,
		Password: cfg.Provision.DBPassword,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "database %s: role created=%t, database created=%t\n",
		cfg.Provision.DBName, res.CreatedRole, res.CreatedDatabase)
	return nil
}
