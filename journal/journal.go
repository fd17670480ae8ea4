// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/frictionlessdata/datapackage-go/validator"
	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/empa-scientific-it/openbis-uploader/config"
)

// This is the job journal, which logs every job a worker has finished. The
// journal is a table of job records (one per job) in a SQLite database.

// name of the database file inside the journal directory
const DatabaseFile = "job_journal.db"

// a record storing all information relevant to a finished job
type Record struct {
	// UUID of the job
	Id uuid.UUID `json:"id"`
	// the user who submitted the job and the data store group it read from
	Owner string `json:"owner"`
	Group string `json:"group"`
	// the parser that processed the job's source file
	Parser string `json:"parser"`
	Source string `json:"source"`
	// identifier of the object or collection the dataset was attached to
	Target string `json:"target"`
	// final status of the job ("finished" or "failed")
	Status string `json:"status"`
	// identifier of the registered dataset, or the failure's message
	Result string `json:"result"`
	// times at which the job started and stopped running
	StartTime time.Time `json:"start_time"`
	StopTime  time.Time `json:"stop_time"`
	// files registered by the job (stored separate from the record fields)
	Manifest *datapackage.Package `json:"-"`
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	grp        TEXT NOT NULL,
	parser     TEXT NOT NULL,
	source     TEXT NOT NULL,
	target     TEXT NOT NULL,
	status     TEXT NOT NULL,
	result     TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	stop_time  INTEGER NOT NULL,
	manifest   TEXT
);
CREATE INDEX IF NOT EXISTS jobs_by_start_time ON jobs (start_time);
`

const columns = `id, owner, grp, parser, source, target, status, result, start_time, stop_time, manifest`

// A Journal is an open job journal. Its methods may be called from several
// goroutines.
type Journal struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

// opens the journal in the configured journal directory
func OpenFromConfig() (*Journal, error) {
	return Open(config.Service.JournalDirectory)
}

// opens (creating if necessary) the journal stored in the given directory
func Open(dir string) (*Journal, error) {
	path := filepath.Join(dir, DatabaseFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &CantOpenError{Path: path, Message: err.Error()}
	}
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	if err != nil {
		return nil, &CantOpenError{Path: path, Message: err.Error()}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, &CantOpenError{Path: path, Message: err.Error()}
	}
	slog.Debug(fmt.Sprintf("Opened job journal %s", path))
	return &Journal{conn: conn}, nil
}

// closes the journal; further calls fail with a NotOpenError
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.conn == nil {
		return nil
	}
	err := j.conn.Close()
	j.conn = nil
	return err
}

// records a finished job
func (j *Journal) Record(record Record) (err error) {
	switch record.Status {
	case "finished", "failed":
	default:
		return &NewRecordError{
			Id:      record.Id,
			Message: fmt.Sprintf("Invalid status: %s", record.Status),
		}
	}
	var manifest any
	if record.Manifest != nil {
		bytes, err := json.Marshal(record.Manifest.Descriptor())
		if err != nil {
			return &NewRecordError{Id: record.Id, Message: err.Error()}
		}
		manifest = string(bytes)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.conn == nil {
		return &NotOpenError{}
	}
	defer sqlitex.Save(j.conn)(&err)
	err = sqlitex.Execute(j.conn,
		`INSERT INTO jobs (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.Id.String(), record.Owner, record.Group, record.Parser, record.Source,
				record.Target, record.Status, record.Result,
				record.StartTime.UnixNano(), record.StopTime.UnixNano(), manifest,
			},
		})
	if err != nil {
		return &NewRecordError{Id: record.Id, Message: err.Error()}
	}
	return nil
}

// retrieves the record of the job with the given ID
func (j *Journal) Get(id uuid.UUID) (Record, error) {
	records, err := j.query(`SELECT `+columns+` FROM jobs WHERE id = ?`, id.String())
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, &RecordNotFoundError{Id: id}
	}
	return records[0], nil
}

// retrieves records for jobs that started and finished within the time
// range with the given (inclusive) bounds, oldest first
func (j *Journal) Records(start, stop time.Time) ([]Record, error) {
	return j.query(`SELECT `+columns+` FROM jobs
		WHERE start_time >= ? AND stop_time <= ? ORDER BY start_time`,
		start.UnixNano(), stop.UnixNano())
}

func (j *Journal) query(query string, args ...any) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.conn == nil {
		return nil, &NotOpenError{}
	}
	records := make([]Record, 0)
	err := sqlitex.Execute(j.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	return records, err
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	id, err := uuid.Parse(stmt.ColumnText(0))
	if err != nil {
		return Record{}, &InvalidRecordError{Id: uuid.Nil, Message: err.Error()}
	}
	record := Record{
		Id:        id,
		Owner:     stmt.ColumnText(1),
		Group:     stmt.ColumnText(2),
		Parser:    stmt.ColumnText(3),
		Source:    stmt.ColumnText(4),
		Target:    stmt.ColumnText(5),
		Status:    stmt.ColumnText(6),
		Result:    stmt.ColumnText(7),
		StartTime: time.Unix(0, stmt.ColumnInt64(8)),
		StopTime:  time.Unix(0, stmt.ColumnInt64(9)),
	}
	if stmt.ColumnType(10) != sqlite.TypeNull {
		record.Manifest, err = datapackage.FromString(stmt.ColumnText(10), "manifest.json",
			validator.InMemoryLoader())
		if err != nil {
			return Record{}, &InvalidRecordError{
				Id:      id,
				Message: fmt.Sprintf("unable to retrieve manifest: %s", err.Error()),
			}
		}
	}
	return record, nil
}
