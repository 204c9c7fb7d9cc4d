package simulator

import (
	"database/sql"
	"fmt"
	"os"

	// SQLite driver for the op recording database.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// Recorder persists executed physical operations into a SQLite database
// for offline analysis. Inserts are buffered and flushed in transactions;
// a registered atexit hook flushes whatever remains.
type Recorder struct {
	db        *sql.DB
	buffer    []*Event
	batchSize int
}

// NewRecorder opens the recording database. An empty path picks a unique
// name. The file must not already exist.
func NewRecorder(path string) (*Recorder, error) {
	if path == "" {
		path = "flashsim_ops_" + xid.New().String()
	}
	filename := path + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("recording file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE ops (
		id TEXT,
		kind TEXT,
		logical_address INTEGER,
		package INTEGER, die INTEGER, plane INTEGER, block INTEGER, page INTEGER,
		start_time REAL,
		time_taken REAL,
		gc_op INTEGER
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	r := &Recorder{
		db:        db,
		batchSize: 100000,
	}
	atexit.Register(func() { r.Flush() })

	fmt.Fprintf(os.Stderr, "Recording operations to %s\n", filename)
	return r, nil
}

// RecordOp buffers one executed event.
func (r *Recorder) RecordOp(e *Event) {
	r.buffer = append(r.buffer, e)
	if len(r.buffer) >= r.batchSize {
		r.Flush()
	}
}

// Flush writes the buffered events in one transaction.
func (r *Recorder) Flush() {
	if len(r.buffer) == 0 {
		return
	}
	tx, err := r.db.Begin()
	if err != nil {
		panic(err)
	}
	stmt, err := tx.Prepare(`INSERT INTO ops VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		panic(err)
	}
	for _, e := range r.buffer {
		gc := 0
		if e.GCOp {
			gc = 1
		}
		_, err = stmt.Exec(e.ID, e.Kind.String(), e.LogicalAddress,
			e.Address.Package, e.Address.Die, e.Address.Plane, e.Address.Block, e.Address.Page,
			e.StartTime, e.TimeTaken, gc)
		if err != nil {
			panic(err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		panic(err)
	}
	r.buffer = r.buffer[:0]
}

// Close flushes and closes the database.
func (r *Recorder) Close() error {
	r.Flush()
	return r.db.Close()
}
