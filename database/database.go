package database

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/rqlite/gorqlite/stdlib"

	"github.com/84adam/arkvault/logging"
)

//go:embed schema.sql
var schemaSQL string

const (
	DriverSQLite = "sqlite3"
	DriverRqlite = "rqlite"
)

// RqliteDSN builds a gorqlite connection string for a comma separated node list.
func RqliteDSN(nodes, username, password string) string {
	if nodes == "" {
		nodes = "localhost:4001"
	}
	nodeList := strings.Split(nodes, ",")

	var dsn string
	if username != "" {
		dsn = fmt.Sprintf("http://%s:%s@%s", username, password, nodeList[0])
	} else {
		dsn = "http://" + nodeList[0]
	}
	if len(nodeList) > 1 {
		dsn += "?disableClusterDiscovery=false"
		for _, node := range nodeList[1:] {
			dsn += "&node=" + node
		}
	}
	return dsn
}

// Open connects to the database and applies the schema.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, DriverRqlite:
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	// An in-memory sqlite database exists per connection.
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ApplySchema creates any missing tables. It is idempotent.
func ApplySchema(db *sql.DB) error {
	for _, stmt := range schemaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	logging.InfoLogger.Println("Database schema applied")
	return nil
}

// schemaStatements splits the embedded schema so each statement can be
// sent on its own; rqlite rejects multi-statement Exec calls.
func schemaStatements() []string {
	var stmts []string
	var current strings.Builder
	for _, line := range strings.Split(schemaSQL, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	return stmts
}

// LogUserAction records an account event in user_activity.
func LogUserAction(db *sql.DB, email, action, target string) error {
	_, err := db.Exec(
		"INSERT INTO user_activity (email, action, target) VALUES (?, ?, ?)",
		email, action, target,
	)
	return err
}
