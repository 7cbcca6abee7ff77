// Package admin implements gatekeeperctl, the operator tool that works
// directly against the server's database: creating users, revoking every
// session of a user and purging the expired part of the ledger.
package admin

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gatekeeper/internal/server/retention"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

const usage = `usage: gatekeeperctl [-d dsn] <command> [flags]

commands:
  useradd     -name NAME -username LOGIN -email EMAIL [-phone PHONE]
  revoke-all  -username LOGIN
  purge       delete expired ledger records
`

// ErrUsage is returned for unknown commands and bad flags.
var ErrUsage = errors.New("usage error")

type App struct {
	cfg    *config.Config
	repos  repomanager.RepositoryManager
	users  *services.UserService
	in     *bufio.Reader
	out    io.Writer
	logger logging.Logger
}

func newApp(cfg *config.Config, repos repomanager.RepositoryManager, in io.Reader, out io.Writer) *App {
	logger := logging.Nop{}
	return &App{
		cfg:    cfg,
		repos:  repos,
		users:  services.NewUserService(repos, cfg, logger),
		in:     bufio.NewReader(in),
		out:    out,
		logger: logger,
	}
}

// openRepositories is a seam for tests.
var openRepositories = func(ctx context.Context, dsn string) (repomanager.RepositoryManager, error) {
	return repomanager.OpenPostgres(ctx, dsn)
}

// Main parses args, opens the configured database and runs one command.
func Main(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("gatekeeperctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return ErrUsage
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database DSN is required (-d or GATEKEEPER_DATABASE_DSN)")
	}

	repos, err := openRepositories(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer repos.Close()

	if err := repos.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	return newApp(cfg, repos, in, out).Run(ctx, fs.Args())
}

// Run dispatches one command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return ErrUsage
	}

	switch args[0] {
	case "useradd":
		return a.userAdd(ctx, args[1:])
	case "revoke-all":
		return a.revokeAll(ctx, args[1:])
	case "purge":
		return a.purge(ctx)
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

func (a *App) userAdd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	fs.SetOutput(a.out)
	in := services.RegisterInput{}
	fs.StringVar(&in.Name, "name", "", "display name")
	fs.StringVar(&in.UserName, "username", "", "login name")
	fs.StringVar(&in.Email, "email", "", "email address")
	fs.StringVar(&in.Phone, "phone", "", "phone number")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if in.UserName == "" {
		name, err := getSimpleText(a.in, "Username", a.out)
		if err != nil {
			return err
		}
		in.UserName = name
	}

	password, err := getPassword(a.out, "Password: ")
	if err != nil {
		return err
	}
	confirm, err := getPassword(a.out, "Repeat password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("%w: passwords do not match", common.ErrorValidation)
	}
	in.Password = password

	user, err := a.users.Register(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created user %s (%s)\n", user.UserName, user.ID)
	return nil
}

func (a *App) revokeAll(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke-all", flag.ContinueOnError)
	fs.SetOutput(a.out)
	userName := fs.String("username", "", "login name")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if *userName == "" {
		return fmt.Errorf("%w: -username is required", ErrUsage)
	}

	user, err := a.repos.Users().GetUserByLogin(ctx, *userName)
	if err != nil {
		return fmt.Errorf("find user %q: %w", *userName, err)
	}
	n, err := a.repos.Tokens().RevokeAllBySubject(ctx, user.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "revoked %d token(s) of %s\n", n, user.UserName)
	return nil
}

func (a *App) purge(ctx context.Context) error {
	var archiver retention.Archiver
	if a.cfg.S3Bucket != "" {
		client, err := retention.NewS3Client(ctx, a.cfg)
		if err != nil {
			return err
		}
		archiver = retention.NewS3Archiver(client, a.cfg.S3Bucket)
	}

	n, err := retention.NewPurger(a.repos.Tokens(), archiver, a.cfg, a.logger).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "purged %d expired record(s)\n", n)
	return nil
}
