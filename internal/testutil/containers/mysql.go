//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// MySQLContainer is a running MySQL server with an open connection pool.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// MySQLConfig configures NewMySQLContainer.
type MySQLConfig struct {
	Database string
	Username string
	Password string
	Image    string
}

// DefaultMySQLConfig returns the settings used when no config is given.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "alert_engine_test",
		Username: "alerts",
		Password: "alerts",
		Image:    "mysql:8.0",
	}
}

// NewMySQLContainer starts MySQL and waits until it accepts queries.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	if config == nil {
		def := DefaultMySQLConfig()
		config = &def
	}

	container, err := mysql.Run(ctx, config.Image,
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	// parseTime is required for gorm time columns.
	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLContainer{container: container, db: db, dsn: dsn}, nil
}

// DSN returns the connection string, usable as database.dsn.
func (c *MySQLContainer) DSN() string {
	return c.dsn
}

// Gorm wraps the shared pool in a gorm handle. Closing the handle is left
// to Terminate.
func (c *MySQLContainer) Gorm(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: c.db}), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm on MySQL container: %v", err)
	}
	return db
}

// Reset empties the given tables with foreign key checks disabled.
func (c *MySQLContainer) Reset(ctx context.Context, tables ...string) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("failed to disable foreign key checks: %w", err)
	}
	for _, table := range tables {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE `%s`", table)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	_, err = conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
	return err
}

// Terminate closes the pool and removes the container.
func (c *MySQLContainer) Terminate() error {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if err := testcontainers.TerminateContainer(c.container); err != nil {
		return fmt.Errorf("failed to terminate MySQL container: %w", err)
	}
	return nil
}
