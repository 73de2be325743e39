package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"dispute-rollup/common"
	"dispute-rollup/log"

	"github.com/gobuffalo/packr/v2"
	"github.com/jmoiron/sqlx"

	// driver for postgres DB
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/russross/meddler"
	"golang.org/x/sync/semaphore"
)

var migrations = &migrate.PackrMigrationSource{
	Box: packr.New("dispute-rollup-db-migrations", "./migrations"),
}

// ConnectSQLDB connects to the given PostgreSQL server, without running
// migrations
func ConnectSQLDB(port int, host, user, password, name string) (*sqlx.DB, error) {
	// Init meddler
	initMeddler()
	meddler.Default = meddler.PostgreSQL

	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host,
		port,
		user,
		password,
		name,
	)
	db, err := sqlx.Connect("postgres", psqlconn)
	if err != nil {
		return nil, common.Wrap(err)
	}
	return db, nil
}

// InitSQLDB runs migrations and registers meddlers
func InitSQLDB(port int, host, user, password, name string) (*sqlx.DB, error) {
	db, err := ConnectSQLDB(port, host, user, password, name)
	if err != nil {
		return nil, common.Wrap(err)
	}
	// Run DB migrations
	if err := MigrationsUp(db.DB); err != nil {
		return nil, common.Wrap(err)
	}
	return db, nil
}

// InitTestSQLDB opens the test database described by the PG* environment
// variables and runs the migrations.  An error is returned when PGHOST is
// unset so that DB tests can be skipped on machines without PostgreSQL.
func InitTestSQLDB() (*sqlx.DB, error) {
	host := os.Getenv("PGHOST")
	if host == "" {
		return nil, common.Wrap(fmt.Errorf("PGHOST is not set"))
	}
	port := 5432
	if portStr := os.Getenv("PGPORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, common.Wrap(err)
		}
		port = p
	}
	user := os.Getenv("PGUSER")
	if user == "" {
		user = "dispute"
	}
	password := os.Getenv("PGPASSWORD")
	if password == "" {
		password = "dispute"
	}
	name := os.Getenv("PGDATABASE")
	if name == "" {
		name = "dispute"
	}
	return InitSQLDB(port, host, user, password, name)
}

// MigrationsUp runs the pending migrations on the database
func MigrationsUp(db *sql.DB) error {
	nMigrations, err := migrate.Exec(db, "postgres", migrations, migrate.Up)
	if err != nil {
		return common.Wrap(err)
	}
	log.Info("successfully ran ", nMigrations, " migrations Up")
	return nil
}

// MigrationsDown reverts the last nMigrations on the database
func MigrationsDown(db *sql.DB, nMigrations int) error {
	nDown, err := migrate.ExecMax(db, "postgres", migrations, migrate.Down, nMigrations)
	if err != nil {
		return common.Wrap(err)
	}
	if nDown != nMigrations {
		return common.Wrap(fmt.Errorf("expected %v migrations Down but ran %v",
			nMigrations, nDown))
	}
	log.Info("successfully ran ", nDown, " migrations Down")
	return nil
}

// initMeddler registers tags to be used to read/write from SQL DBs using meddler
func initMeddler() {
	meddler.Register("bigint", BigIntMeddler{})
	meddler.Register("bigintnull", BigIntNullMeddler{})
}

// BulkInsert performs a bulk insert with a single statement into the
// specified table.  Example:
//
//	BulkInsert(db, "INSERT INTO dispute (dispute_num, ...) VALUES %s", disputes)
//
// Note that all the columns must be specified in the query, and they must be
// in the same order as in the table.  The fields in the structs need to be
// defined in the same order as in the table columns.
func BulkInsert(db meddler.DB, q string, args interface{}) error {
	arrayValue := reflect.ValueOf(args)
	arrayLen := arrayValue.Len()
	valueStrings := make([]string, 0, arrayLen)
	var arglist = make([]interface{}, 0)
	for i := 0; i < arrayLen; i++ {
		arg := arrayValue.Index(i).Addr().Interface()
		elemArglist, err := meddler.Default.Values(arg, true)
		if err != nil {
			return common.Wrap(err)
		}
		arglist = append(arglist, elemArglist...)
		value := "("
		for j := 0; j < len(elemArglist); j++ {
			value += fmt.Sprintf("$%d, ", i*len(elemArglist)+j+1)
		}
		value = value[:len(value)-2] + ")"
		valueStrings = append(valueStrings, value)
	}
	stmt := fmt.Sprintf(q, strings.Join(valueStrings, ","))
	_, err := db.Exec(stmt, arglist...)
	return common.Wrap(err)
}

// BigIntMeddler encodes or decodes the field value to or from string
type BigIntMeddler struct{}

// PreRead is called before a Scan operation for fields that have the BigIntMeddler
func (b BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// give a pointer to a string to grab the raw data
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the BigIntMeddler
func (b BigIntMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return common.Wrap(fmt.Errorf("scanTarget is not *string"))
	}
	if ptr == nil {
		return common.Wrap(fmt.Errorf("BigIntMeddler.PostRead: nil pointer"))
	}
	field, ok := fieldPtr.(**big.Int)
	if !ok {
		return common.Wrap(fmt.Errorf("fieldPtr is not **big.Int"))
	}
	*field, ok = new(big.Int).SetString(*ptr, 10)
	if !ok {
		return common.Wrap(fmt.Errorf("big.Int.SetString failed on \"%v\"", *ptr))
	}
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the BigIntMeddler
func (b BigIntMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(*big.Int)
	if !ok {
		return nil, common.Wrap(fmt.Errorf("fieldPtr is not *big.Int"))
	}
	return field.String(), nil
}

// BigIntNullMeddler encodes or decodes the field value to or from string,
// mapping nil to NULL
type BigIntNullMeddler struct{}

// PreRead is called before a Scan operation for fields that have the BigIntNullMeddler
func (b BigIntNullMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return &fieldAddr, nil
}

// PostRead is called after a Scan operation for fields that have the BigIntNullMeddler
func (b BigIntNullMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	field := fieldPtr.(**big.Int)
	ptrPtr := scanTarget.(*interface{})
	if *ptrPtr == nil {
		// null column, so set target to be nil
		*field = nil
		return nil
	}
	// not null
	val, ok := (*ptrPtr).([]byte)
	if !ok {
		return common.Wrap(fmt.Errorf("scanTarget is not []byte"))
	}
	*field = new(big.Int)
	var success bool
	*field, success = (*field).SetString(string(val), 10)
	if !success {
		return common.Wrap(fmt.Errorf("big.Int.SetString failed on \"%v\"", string(val)))
	}
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the BigIntNullMeddler
func (b BigIntNullMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field := fieldPtr.(*big.Int)
	if field == nil {
		return nil, nil
	}
	return field.String(), nil
}

// SlicePtrsToSlice converts a []*T to []T
func SlicePtrsToSlice(slice interface{}) interface{} {
	v := reflect.ValueOf(slice)
	out := reflect.MakeSlice(reflect.SliceOf(v.Type().Elem().Elem()), v.Len(), v.Cap())
	for i := 0; i < v.Len(); i++ {
		out.Index(i).Set(v.Index(i).Elem())
	}
	return out.Interface()
}

// Rollback an sql transaction, and log the error if the rollback fails
func Rollback(txn *sqlx.Tx) {
	if err := txn.Rollback(); err != nil {
		log.Errorw("Rollback", "err", err)
	}
}

// APIConnectionController is used to limit the SQL open connections used by the API
type APIConnectionController struct {
	smphr   *semaphore.Weighted
	timeout time.Duration
}

// NewAPIConnectionController initialize APIConnectionController
func NewAPIConnectionController(maxConnections int, timeout time.Duration) *APIConnectionController {
	return &APIConnectionController{
		smphr:   semaphore.NewWeighted(int64(maxConnections)),
		timeout: timeout,
	}
}

// Acquire reserves a SQL connection.  If the connection limit is reached this
// function holds the execution until a connection is released or the timeout
// is hit
func (acc *APIConnectionController) Acquire() (context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(context.Background(), acc.timeout) //nolint
	return cancel, common.Wrap(acc.smphr.Acquire(ctx, 1))
}

// Release frees a SQL connection
func (acc *APIConnectionController) Release() {
	acc.smphr.Release(1)
}
