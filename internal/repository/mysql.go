package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// NewMySQLStore opens a MySQL store. The DSN must set parseTime=true.
func NewMySQLStore(dsn string, pool PoolConfig) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}
	pool.apply(db)

	return openNetworkStore(db, mysqlDialect)
}
