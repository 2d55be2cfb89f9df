package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"news_narrator/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// stampLayout is fixed width so SQLite text timestamps sort chronologically.
const stampLayout = "2006-01-02 15:04:05.000000000-07:00"

func init() {
	sqlx.BindDriver(config.DriverSQLite, sqlx.QUESTION)
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == config.DriverSQLite {
		// one writer; transactions carry their own connection through ctx
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates the schema for the database's dialect. It is safe to run
// on every start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	name := "migrations/" + dialectOf(db).name + ".sql"
	script, err := migrations.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	for _, stmt := range strings.Split(string(script), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

type dialect struct {
	name    string
	builder sq.StatementBuilderType
}

func dialectOf(db *sqlx.DB) dialect {
	if db.DriverName() == config.DriverSQLite {
		return dialect{name: config.DriverSQLite, builder: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	}
	return dialect{name: config.DriverPostgres, builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// stamp converts t to the representation stored by the dialect.
func (d dialect) stamp(t time.Time) any {
	t = t.UTC()
	if d.name == config.DriverSQLite {
		return t.Format(stampLayout)
	}
	return t
}

func (d dialect) nullStamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.stamp(*t)
}

// timestamp scans both native time values and SQLite text.
type timestamp struct {
	time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("scan timestamp: unsupported type %T", src)
}

func (t *timestamp) parse(s string) error {
	for _, layout := range []string{stampLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("scan timestamp: unrecognised value %q", s)
}

type nullTimestamp struct {
	Time *time.Time
}

func (t *nullTimestamp) Scan(src any) error {
	if src == nil {
		t.Time = nil
		return nil
	}
	var ts timestamp
	if err := ts.Scan(src); err != nil {
		return err
	}
	t.Time = &ts.Time
	return nil
}

// text turns an optional string into a NULL-able argument.
func text(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
