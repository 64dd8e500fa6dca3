package dbconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type dialCall struct {
	host   string
	schema string
}

// scriptedDialer fails for every host in failing and succeeds elsewhere.
type scriptedDialer struct {
	failing map[string]error
	calls   []dialCall
}

func (d *scriptedDialer) Dial(_ context.Context, host, schema string) (*gorm.DB, error) {
	d.calls = append(d.calls, dialCall{host, schema})
	if err, ok := d.failing[host]; ok {
		return nil, err
	}
	return gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
}

func (d *scriptedDialer) Schemas(context.Context, *Conn) ([]string, error) {
	return []string{"information_schema", "klant_a", "mysql", "klant_b", "sys"}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, d Dialer, hosts ...string) (*Manager, *[]time.Duration) {
	t.Helper()
	m, err := NewManager(Config{Hosts: hosts, MaxAttempts: 3, RetryDelay: time.Second}, d, quietLogger())
	require.NoError(t, err)
	var slept []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return m, &slept
}

func TestConnect_FirstHostSucceeds(t *testing.T) {
	d := &scriptedDialer{}
	m, slept := newTestManager(t, d, "db1", "db2")

	conn, err := m.Connect(context.Background(), "klant_a")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "db1", conn.Host)
	assert.Equal(t, "klant_a", conn.Schema)
	assert.Len(t, d.calls, 1)
	assert.Empty(t, *slept)
}

func TestConnect_FallsBackToSecondHost(t *testing.T) {
	d := &scriptedDialer{failing: map[string]error{"db1": errors.New("connection refused")}}
	m, slept := newTestManager(t, d, "db1", "db2")

	conn, err := m.Connect(context.Background(), "klant_a")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "db2", conn.Host)
	assert.Len(t, d.calls, 4, "three attempts on db1, one on db2")
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, *slept)
}

func TestConnect_ExhaustedReturnsUnavailable(t *testing.T) {
	last := errors.New("i/o timeout")
	d := &scriptedDialer{failing: map[string]error{
		"db1": errors.New("connection refused"),
		"db2": last,
	}}
	m, _ := newTestManager(t, d, "db1", "db2")

	conn, err := m.Connect(context.Background(), "klant_a")
	assert.Nil(t, conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, last)

	var uerr *UnavailableError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, 6, uerr.Attempts)
	assert.Equal(t, "klant_a", uerr.Schema)
	assert.Contains(t, err.Error(), "i/o timeout")
}

func TestConnect_UnknownSchemaSkipsRemainingAttempts(t *testing.T) {
	d := &scriptedDialer{failing: map[string]error{
		"db1": fmt.Errorf("%w: klant_x", ErrUnknownSchema),
	}}
	m, _ := newTestManager(t, d, "db1", "db2")

	conn, err := m.Connect(context.Background(), "klant_x")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "db2", conn.Host)
	assert.Len(t, d.calls, 2)
}

func TestConnectPreferring(t *testing.T) {
	d := &scriptedDialer{}
	m, _ := newTestManager(t, d, "db1", "db2")

	conn, err := m.ConnectPreferring(context.Background(), "db2", "klant_a")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "db2", conn.Host)
}

func TestSchemas_SkipsSystem(t *testing.T) {
	m, _ := newTestManager(t, &scriptedDialer{}, "db1")

	names, host, err := m.Schemas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db1", host)
	assert.Equal(t, []string{"klant_a", "klant_b"}, names)
}

func TestNewManager_RequiresHosts(t *testing.T) {
	_, err := NewManager(Config{}, &scriptedDialer{}, nil)
	assert.ErrorIs(t, err, ErrNoHosts)
}

func TestSQLiteDialer(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"klant_b", "klant_a"} {
		db, err := gorm.Open(sqlite.Open(filepath.Join(dir, name+".db")), &gorm.Config{})
		require.NoError(t, err)
		require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER)").Error)
		sqlDB, _ := db.DB()
		require.NoError(t, sqlDB.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	m, err := NewManagerFromConfig(Config{Driver: DriverSQLite, Hosts: []string{dir}, RetryDelay: time.Millisecond}, quietLogger())
	require.NoError(t, err)

	names, _, err := m.Schemas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"klant_a", "klant_b"}, names)

	conn, err := m.Connect(context.Background(), "klant_a")
	require.NoError(t, err)
	assert.True(t, conn.DB.Migrator().HasTable("t"))
	require.NoError(t, conn.Close())

	_, err = m.Connect(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, ErrUnknownSchema)
}

func TestMySQLDialerDSN(t *testing.T) {
	d := &MySQLDialer{User: "support", Password: "s3cret", Timeout: 10 * time.Second}

	dsn := d.DSN("10.0.0.5", "klant_a")
	assert.Contains(t, dsn, "support:s3cret@tcp(10.0.0.5:3306)/klant_a")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "timeout=10s")

	assert.Contains(t, d.DSN("db.local:3307", ""), "@tcp(db.local:3307)/")
}
