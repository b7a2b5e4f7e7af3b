// Package datarecording stores simulation results in SQL databases.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/structs"
	// Register the PostgreSQL driver.
	_ "github.com/lib/pq"
	// Register the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// Dialect selects the SQL flavor a recorder writes.
type Dialect int

// The supported dialects.
const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// DataRecorder is a backend that can record and store data
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of sampleEntry.
	// Creating a table that already exists in the database is allowed.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that has been created.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the tables created by this recorder.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Close flushes and closes the database connection.
	Close() error
}

// New creates a DataRecorder that writes into a new SQLite file named
// path.sqlite3. A random name is used if path is empty. It panics if the file
// already exists. Entries not flushed yet are written when the program ends
// with atexit.Exit.
func New(path string) DataRecorder {
	w := &sqlWriter{
		dbName:    path,
		dialect:   DialectSQLite,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	w.init()
	w.flushAtExit()

	return w
}

// NewWithDB creates a DataRecorder on an opened database.
func NewWithDB(db *sql.DB, dialect Dialect) DataRecorder {
	w := &sqlWriter{
		DB:        db,
		dialect:   dialect,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	w.flushAtExit()

	return w
}

// OpenPostgres connects to a PostgreSQL server and returns a DataRecorder that
// writes into it.
func OpenPostgres(databaseURL string) (DataRecorder, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return NewWithDB(db, DialectPostgres), nil
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqlWriter buffers entries in memory and writes them in batches.
type sqlWriter struct {
	*sql.DB

	lock       sync.Mutex
	dbName     string
	dialect    Dialect
	tables     map[string]*table
	tableOrder []string
	batchSize  int
	entryCount int
	closed     bool
	exitHook   atexit.HandlerID
}

// flushAtExit makes atexit.Exit write the entries that are still buffered.
func (t *sqlWriter) flushAtExit() {
	t.exitHook = atexit.Register(func() { t.Flush() })
}

func (t *sqlWriter) init() {
	if t.dbName == "" {
		t.dbName = "malnet_recording_" + xid.New().String()
	}

	filename := t.dbName + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	// The file is only created once a connection is made.
	err = db.Ping()
	if err != nil {
		panic(err)
	}

	t.DB = db
}

func (t *sqlWriter) columnType(kind reflect.Kind) (string, error) {
	switch kind {
	case reflect.Bool:
		if t.dialect == DialectPostgres {
			return "BOOLEAN", nil
		}
		return "INTEGER", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16,
		reflect.Uint32, reflect.Uint64:
		if t.dialect == DialectPostgres {
			return "BIGINT", nil
		}
		return "INTEGER", nil
	case reflect.Float32, reflect.Float64:
		if t.dialect == DialectPostgres {
			return "DOUBLE PRECISION", nil
		}
		return "REAL", nil
	case reflect.String:
		return "TEXT", nil
	default:
		return "", errors.New("entry is invalid")
	}
}

func (t *sqlWriter) columns(sampleEntry any) ([]string, error) {
	types := reflect.TypeOf(sampleEntry)
	if types.Kind() != reflect.Struct {
		return nil, errors.New("entry is invalid")
	}

	cols := make([]string, 0, types.NumField())
	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)

		if !field.IsExported() {
			return nil, fmt.Errorf("field %s is not exported", field.Name)
		}

		colType, err := t.columnType(field.Type.Kind())
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}

		cols = append(cols, field.Name+" "+colType)
	}

	return cols, nil
}

func (t *sqlWriter) CreateTable(tableName string, sampleEntry any) {
	t.lock.Lock()
	defer t.lock.Unlock()

	cols, err := t.columns(sampleEntry)
	if err != nil {
		panic(err)
	}

	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + tableName +
		` (` + "\n\t" + strings.Join(cols, ", \n\t") + "\n" + `);`
	t.mustExecute(createTableSQL)

	if _, found := t.tables[tableName]; !found {
		t.tableOrder = append(t.tableOrder, tableName)
	}

	t.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
		entries:    []any{},
	}
}

func (t *sqlWriter) InsertData(tableName string, entry any) {
	t.lock.Lock()

	table, exists := t.tables[tableName]
	if !exists {
		t.lock.Unlock()
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != table.structType {
		t.lock.Unlock()
		panic(fmt.Sprintf("entry of type %T does not fit table %s",
			entry, tableName))
	}

	table.entries = append(table.entries, entry)
	t.entryCount++
	full := t.entryCount >= t.batchSize

	t.lock.Unlock()

	if full {
		t.Flush()
	}
}

func (t *sqlWriter) ListTables() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	tables := make([]string, len(t.tableOrder))
	copy(tables, t.tableOrder)

	return tables
}

func (t *sqlWriter) Flush() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.entryCount == 0 || t.closed {
		return
	}

	tx, err := t.Begin()
	if err != nil {
		panic(err)
	}

	for _, tableName := range t.tableOrder {
		table := t.tables[tableName]
		if len(table.entries) == 0 {
			continue
		}

		stmt, err := tx.Prepare(t.insertStatement(tableName, table.structType))
		if err != nil {
			_ = tx.Rollback()
			panic(err)
		}

		for _, entry := range table.entries {
			_, err := stmt.Exec(structs.Values(entry)...)
			if err != nil {
				stmt.Close()
				_ = tx.Rollback()
				panic(err)
			}
		}

		stmt.Close()
		table.entries = nil
	}

	err = tx.Commit()
	if err != nil {
		panic(err)
	}

	t.entryCount = 0
}

func (t *sqlWriter) Close() error {
	t.Flush()

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	_ = t.exitHook.Cancel()

	return t.DB.Close()
}

func (t *sqlWriter) mustExecute(query string) sql.Result {
	res, err := t.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func (t *sqlWriter) insertStatement(tableName string, structType reflect.Type) string {
	placeholders := make([]string, structType.NumField())
	for i := range placeholders {
		if t.dialect == DialectPostgres {
			placeholders[i] = "$" + strconv.Itoa(i+1)
		} else {
			placeholders[i] = "?"
		}
	}

	return "INSERT INTO " + tableName +
		" VALUES (" + strings.Join(placeholders, ", ") + ")"
}
