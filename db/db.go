package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/hashgate/build"

	// registers the drivers the two dialects need
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var log = build.AddSubLogger("DB")

// Dialect is the SQL flavor a DB speaks.
type Dialect string

const (
	// Postgres is the networked production backend.
	Postgres Dialect = "postgres"
	// SQLite is the embedded single-file backend.
	SQLite Dialect = "sqlite"
)

// ErrUnsupportedURL means the database URL has a scheme we don't speak.
var ErrUnsupportedURL = errors.New("unsupported database URL")

func init() {
	// modernc's driver name is not in sqlx's built-in bindvar table.
	// SQLite binds $1 style parameters natively, so our queries work
	// unchanged on both dialects.
	sqlx.BindDriver("sqlite", sqlx.DOLLAR)
}

// DB wraps sqlx with the dialect it was opened with.
type DB struct {
	*sqlx.DB
	Dialect Dialect
}

// ParseDialect maps a database URL to its dialect.
func ParseDialect(databaseURL string) (Dialect, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		return Postgres, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return SQLite, nil
	default:
		return "", errors.Wrap(ErrUnsupportedURL, databaseURL)
	}
}

// Open connects to the database identified by databaseURL. Postgres URLs
// are passed to lib/pq as they are; sqlite://path URLs open an embedded
// file database with immediate transactions, so concurrent writers
// serialize at the database level the way FOR UPDATE serializes them on
// Postgres.
func Open(databaseURL string) (*DB, error) {
	dialect, err := ParseDialect(databaseURL)
	if err != nil {
		return nil, err
	}

	var d *sqlx.DB
	switch dialect {
	case Postgres:
		d, err = sqlx.Open("postgres", databaseURL)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot connect to database %s", databaseURL)
		}

	case SQLite:
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return nil, errors.Wrap(ErrUnsupportedURL, "sqlite URL without a path")
		}
		dsn := fmt.Sprintf(
			"file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
			path)
		d, err = sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open sqlite database %s", path)
		}
		// one connection keeps the write path free of SQLITE_BUSY
		d.SetMaxOpenConns(1)
	}

	log.WithFields(logrus.Fields{
		"dialect": dialect,
	}).Info("Opened connection to DB")

	return &DB{DB: d, Dialect: dialect}, nil
}

// InsertGetter can get and insert into a db
type InsertGetter interface {
	Getter
	Inserter
}

// Getter can get from a db
type Getter interface {
	Get(dest interface{}, query string, args ...interface{}) error
}

// Inserter can insert into a database
type Inserter interface {
	NamedQuery(query string, arg interface{}) (*sqlx.Rows, error)
}
