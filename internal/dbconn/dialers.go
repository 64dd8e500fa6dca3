package dbconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrUnknownSchema means the host answered but does not carry the schema.
var ErrUnknownSchema = errors.New("dbconn: unknown schema")

const (
	mysqlErrBadDB = 1049

	defaultMySQLPort = "3306"
	sqliteExt        = ".db"
)

// MySQLDialer connects over TCP with go-sql-driver/mysql through gorm.
type MySQLDialer struct {
	User     string
	Password string
	Timeout  time.Duration
}

func (d *MySQLDialer) DSN(host, schema string) string {
	mc := mysql.NewConfig()
	mc.User = d.User
	mc.Passwd = d.Password
	mc.Net = "tcp"
	mc.Addr = withDefaultPort(host, defaultMySQLPort)
	mc.DBName = schema
	mc.Timeout = d.Timeout
	mc.ParseTime = true
	mc.Loc = time.Local
	return mc.FormatDSN()
}

func (d *MySQLDialer) Dial(ctx context.Context, host, schema string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(d.DSN(host, schema)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlErrBadDB {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownSchema, schema, host)
		}
		return nil, fmt.Errorf("open mysql %s: %w", host, err)
	}
	return db.WithContext(ctx), nil
}

func (d *MySQLDialer) Schemas(ctx context.Context, conn *Conn) ([]string, error) {
	rows, err := conn.DB.WithContext(ctx).Raw("SHOW DATABASES").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// SQLiteDialer treats a host as a directory holding one <schema>.db file per
// schema. It serves offline snapshots and test fixtures through the same
// gorm code path as MySQL.
type SQLiteDialer struct {
	BusyTimeout time.Duration
}

func (d *SQLiteDialer) Dial(ctx context.Context, host, schema string) (*gorm.DB, error) {
	info, err := os.Stat(host)
	if err != nil {
		return nil, fmt.Errorf("sqlite host %s: %w", host, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sqlite host %s is not a directory", host)
	}

	timeoutMS := int(d.BusyTimeout / time.Millisecond)
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}

	var dsn string
	if schema == "" {
		dsn = fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)", timeoutMS)
	} else {
		path := filepath.Join(host, schema+sqliteExt)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownSchema, schema, host)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, timeoutMS)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", schema, err)
	}
	return db.WithContext(ctx), nil
}

func (d *SQLiteDialer) Schemas(_ context.Context, conn *Conn) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(conn.Host, "*"+sqliteExt))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), sqliteExt))
	}
	sort.Strings(out)
	return out, nil
}

func withDefaultPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, port)
}
