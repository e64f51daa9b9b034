// Command ltctl is the operator CLI for audit exports, verification,
// retention and admin seeding.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/internal/audit"
	"github.com/Globator25/Lokaltreu-sub000/internal/config"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository"
	"github.com/Globator25/Lokaltreu-sub000/internal/repository/postgres"
)

var version = "dev"

// exitError carries a process exit status out of a command.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// stores are the repositories a command needs.
type stores struct {
	Chain  repository.AuditChain
	Runs   repository.ExportRuns
	Admins repository.AdminRepository
}

// app holds what commands share. Tests replace open and now.
type app struct {
	out  io.Writer
	log  *zap.Logger
	env  *config.EnvReader
	now  func() time.Time
	open func(ctx context.Context) (*stores, func(), error)
}

func newApp(out io.Writer, log *zap.Logger) *app {
	a := &app{out: out, log: log, env: config.NewEnvReader(), now: time.Now}
	a.open = a.openPostgres
	return a
}

func (a *app) openPostgres(ctx context.Context) (*stores, func(), error) {
	dsn := a.env.String("DATABASE_URL", "")
	if dsn == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	db, err := postgres.New(ctx, dsn, postgres.PoolOptions{MaxConns: 4})
	if err != nil {
		return nil, nil, err
	}
	return &stores{
		Chain:  postgres.NewAuditRepo(db),
		Runs:   postgres.NewExportRunRepo(db),
		Admins: postgres.NewAdminRepo(db),
	}, db.Close, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ltctl",
		Short:         "Lokaltreu operator tooling",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)

	root.AddCommand(a.verifyCmd())
	root.AddCommand(a.exportCmd())
	root.AddCommand(a.gapCheckCmd())
	root.AddCommand(a.pruneCmd())
	root.AddCommand(a.keygenCmd())
	root.AddCommand(a.adminCmd())
	root.AddCommand(a.migrateCmd())
	return root
}

// run executes args and returns the process exit status.
func (a *app) run(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	var ee exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	default:
		fmt.Fprintln(os.Stderr, "ltctl:", err)
		return audit.ExitUsage
	}
}

func main() {
	_ = config.LoadDotEnv()
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	code := newApp(os.Stdout, log).run(context.Background(), os.Args[1:])
	_ = log.Sync()
	os.Exit(code)
}
