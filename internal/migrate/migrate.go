// Package migrate applies the embedded goose migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/Globator25/Lokaltreu-sub000/migrations"
)

// zapLogger routes goose output into zap.
type zapLogger struct{ s *zap.SugaredLogger }

func (l zapLogger) Printf(format string, v ...any) { l.s.Infof(format, v...) }
func (l zapLogger) Fatalf(format string, v ...any) { l.s.Fatalf(format, v...) }

func open(dsn string, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	goose.SetLogger(zapLogger{s: log.Named("goose").Sugar()})
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Up runs all pending migrations.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := open(dsn, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Version reports the current schema version.
func Version(ctx context.Context, dsn string, log *zap.Logger) (int64, error) {
	db, err := open(dsn, log)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return goose.GetDBVersionContext(ctx, db)
}
