//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	mysqlImage       = "mysql:8.0.36"
	mysqlDatabase    = "dbqueue"
	mysqlUser        = "root"
	mysqlPassword    = "secret"
	postgresImage    = "postgres:16-alpine"
	postgresDatabase = "dbqueue"
	postgresUser     = "dbqueue"
	postgresPassword = "secret"
	startupTimeout   = 2 * time.Minute
)

// Database is a started container with an open pool.
type Database struct {
	Container testcontainers.Container
	DB        *sql.DB
	// DSN reaches the database from the host without credentials.
	DSN      string
	User     string
	Password string
}

// StartMySQL starts MySQL 8 and skips the test when Docker is unavailable.
func StartMySQL(t *testing.T, ctx context.Context) Database {
	t.Helper()

	port := nat.Port("3306/tcp")
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", mysqlUser, mysqlPassword, host, port.Port(), mysqlDatabase)
	}

	container, host, mapped := start(t, ctx, testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": mysqlPassword,
			"MYSQL_DATABASE":      mysqlDatabase,
		},
		WaitingFor: wait.ForSQL(port, "mysql", dsn).WithStartupTimeout(startupTimeout),
	}, port)

	db := open(t, "mysql", dsn(host, mapped))

	return Database{
		Container: container,
		DB:        db,
		DSN:       fmt.Sprintf("tcp(%s:%s)/%s", host, mapped.Port(), mysqlDatabase),
		User:      mysqlUser,
		Password:  mysqlPassword,
	}
}

// StartPostgres starts Postgres and skips the test when Docker is unavailable.
func StartPostgres(t *testing.T, ctx context.Context) Database {
	t.Helper()

	port := nat.Port("5432/tcp")
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			postgresUser, postgresPassword, host, port.Port(), postgresDatabase)
	}

	container, host, mapped := start(t, ctx, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDatabase,
		},
		WaitingFor: wait.ForSQL(port, "pgx", dsn).WithStartupTimeout(startupTimeout),
	}, port)

	db := open(t, "pgx", dsn(host, mapped))

	return Database{
		Container: container,
		DB:        db,
		DSN:       fmt.Sprintf("postgres://%s:%s/%s?sslmode=disable", host, mapped.Port(), postgresDatabase),
		User:      postgresUser,
		Password:  postgresPassword,
	}
}

func start(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (testcontainers.Container, string, nat.Port) {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	return container, host, mapped
}

func open(t *testing.T, driver, dsn string) *sql.DB {
	t.Helper()

	db, err := sql.Open(driver, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
