package datarecording

import (
	"database/sql"
	"fmt"
	"os"
)

// A DataReader reads back what a DataRecorder has written.
type DataReader struct {
	*sql.DB

	dialect Dialect
}

// OpenSQLite opens an existing SQLite recording. The path is the full file
// name, including the .sqlite3 extension.
func OpenSQLite(path string) (*DataReader, error) {
	_, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	return &DataReader{DB: db, dialect: DialectSQLite}, nil
}

// NewReaderWithDB wraps an opened database.
func NewReaderWithDB(db *sql.DB, dialect Dialect) *DataReader {
	return &DataReader{DB: db, dialect: dialect}
}

// Dialect returns the SQL flavor of the database.
func (r *DataReader) Dialect() Dialect {
	return r.dialect
}

// Placeholder returns the n-th (1-based) query parameter marker.
func (r *DataReader) Placeholder(n int) string {
	if r.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}

	return "?"
}

// ListTables returns the names of all the tables in the database.
func (r *DataReader) ListTables() ([]string, error) {
	query := "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name"
	if r.dialect == DialectPostgres {
		query = "SELECT table_name FROM information_schema.tables " +
			"WHERE table_schema = current_schema() ORDER BY table_name"
	}

	rows, err := r.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string

		err := rows.Scan(&name)
		if err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// HasTable tells if a table exists.
func (r *DataReader) HasTable(name string) (bool, error) {
	tables, err := r.ListTables()
	if err != nil {
		return false, err
	}

	for _, t := range tables {
		if t == name {
			return true, nil
		}
	}

	return false, nil
}
