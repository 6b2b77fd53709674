package sink

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jmylchreest/mapsleads/internal/logger"
)

func init() {
	ctx := context.Background()
	for _, scheme := range []string{"sqlite", "postgres", "postgresql", "mysql"} {
		if err := Register(ctx, scheme, NewSQLSink); err != nil {
			panic(err)
		}
	}
}

// dialect holds the per-database SQL differences.
type dialect struct {
	driver string
	create string
	insert string
	bind   func(i int) string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite3",
		create: `CREATE TABLE IF NOT EXISTS %s (
			place_key TEXT PRIMARY KEY,
			%s
		)`,
		insert: "INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		bind:   func(int) string { return "?" },
	},
	"postgres": {
		driver: "pgx",
		create: `CREATE TABLE IF NOT EXISTS %s (
			place_key TEXT PRIMARY KEY,
			%s
		)`,
		insert: "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (place_key) DO NOTHING",
		bind:   func(i int) string { return fmt.Sprintf("$%d", i) },
	},
	"mysql": {
		driver: "mysql",
		create: `CREATE TABLE IF NOT EXISTS %s (
			place_key VARCHAR(512) PRIMARY KEY,
			%s
		) CHARACTER SET utf8mb4`,
		insert: "INSERT IGNORE INTO %s (%s) VALUES (%s)",
		bind:   func(int) string { return "?" },
	},
}

// placeColumns follows the key column in every table.
var placeColumns = []string{
	"query", "name", "city", "category", "address", "phone", "website",
	"email", "facebook_url", "instagram_url", "whatsapp_url", "rating",
	"reviews_count", "latitude", "longitude", "google_url", "claimed",
	"captured_at",
}

// SQLConfig configures a SQLSink.
type SQLConfig struct {
	Scheme string `validate:"required,oneof=sqlite postgres mysql"`
	DSN    string `validate:"required"`
	Table  string `validate:"required,max=64"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var sinkValidate = validator.New()

// ParseSQLConfig builds a SQLConfig from a sink URI. The table defaults to
// "places" and is set with the table query parameter.
func ParseSQLConfig(uri string) (SQLConfig, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return SQLConfig{}, err
	}

	q := u.Query()
	cfg := SQLConfig{Scheme: u.Scheme, Table: q.Get("table")}
	if cfg.Table == "" {
		cfg.Table = "places"
	}
	q.Del("table")
	u.RawQuery = q.Encode()

	switch u.Scheme {
	case "sqlite":
		cfg.DSN = u.Host + u.Path
		if u.RawQuery != "" {
			cfg.DSN += "?" + u.RawQuery
		}
	case "postgres", "postgresql":
		cfg.Scheme = "postgres"
		cfg.DSN = u.String()
	case "mysql":
		mc := mysql.NewConfig()
		mc.Net = "tcp"
		mc.Addr = u.Host
		mc.DBName = strings.TrimPrefix(u.Path, "/")
		mc.ParseTime = true
		if u.User != nil {
			mc.User = u.User.Username()
			mc.Passwd, _ = u.User.Password()
		}
		cfg.DSN = mc.FormatDSN()
	}

	if err := sinkValidate.Struct(cfg); err != nil {
		return SQLConfig{}, fmt.Errorf("invalid sql sink %s: %w", u.Redacted(), err)
	}
	if !tableName.MatchString(cfg.Table) {
		return SQLConfig{}, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	return cfg, nil
}

// SQLSink inserts places into a table keyed by the identity key. Rows
// already present are left untouched.
type SQLSink struct {
	db      *sql.DB
	table   string
	dialect dialect
	now     func() time.Time
}

// NewSQLSink opens the database named by uri and creates the table if
// needed.
func NewSQLSink(ctx context.Context, uri string) (Sink, error) {
	cfg, err := ParseSQLConfig(uri)
	if err != nil {
		return nil, err
	}
	d := dialects[cfg.Scheme]

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Scheme, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Scheme, err)
	}

	s := &SQLSink{db: db, table: cfg.Table, dialect: d, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("sql sink ready", "driver", d.driver, "table", cfg.Table)
	return s, nil
}

func (s *SQLSink) migrate(ctx context.Context) error {
	cols := make([]string, len(placeColumns))
	for i, c := range placeColumns {
		cols[i] = c + " TEXT"
	}
	stmt := fmt.Sprintf(s.dialect.create, s.table, strings.Join(cols, ",\n\t\t\t"))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

func (s *SQLSink) insertStatement() string {
	cols := append([]string{"place_key"}, placeColumns...)
	binds := make([]string, len(cols))
	for i := range cols {
		binds[i] = s.dialect.bind(i + 1)
	}
	return fmt.Sprintf(s.dialect.insert, s.table, strings.Join(cols, ", "), strings.Join(binds, ", "))
}

// Write implements Sink. All rows of a batch are written in one transaction;
// a failed insert rolls back the whole batch.
func (s *SQLSink) Write(ctx context.Context, b Batch) (int, error) {
	ps := valid(b.Places)
	if len(ps) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.insertStatement())
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	captured := s.now().UTC().Format(time.RFC3339)
	inserted := 0
	for _, p := range ps {
		res, err := stmt.ExecContext(ctx,
			p.Key(), b.Query, p.Name, p.City, p.Category, p.Address, p.Phone, p.Website,
			p.Email, p.FacebookURL, p.InstagramURL, p.WhatsAppURL, p.Rating,
			p.ReviewsCount, p.Latitude, p.Longitude, p.GoogleURL, p.Claimed.String(),
			captured,
		)
		if err != nil {
			logger.Warn("insert failed, batch rolled back", "name", p.Name, "error", err)
			return 0, fmt.Errorf("inserting %q: %w", p.Name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return inserted, nil
}

// Close implements Sink.
func (s *SQLSink) Close() error {
	return s.db.Close()
}
