package tracing

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/cadence/sim/id"
	"github.com/sarchlab/cadence/sim/timing"
)

// SQLiteTraceWriter is a writer that writes trace data to a SQLite database.
type SQLiteTraceWriter struct {
	*sql.DB

	lock          sync.Mutex
	taskStatement *sql.Stmt
	stepStatement *sql.Stmt

	dbName           string
	runID            string
	tasksToWriteToDB []Task
	batchSize        int
}

// NewSQLiteTraceWriter creates a new SQLiteTraceWriter. The database file is
// path with a .sqlite3 extension; an empty path names the file after the
// run.
func NewSQLiteTraceWriter(path string) *SQLiteTraceWriter {
	w := &SQLiteTraceWriter{
		dbName:    path,
		batchSize: 100000,
	}

	atexit.Register(func() { _ = w.Flush() })

	return w
}

// RunID identifies this recording. It is set by Init.
func (t *SQLiteTraceWriter) RunID() string {
	return t.runID
}

// FileName returns the database file. It is set by Init.
func (t *SQLiteTraceWriter) FileName() string {
	return t.dbName + ".sqlite3"
}

// Init creates the database and its tables.
func (t *SQLiteTraceWriter) Init() error {
	t.runID = id.UniqueString()
	if t.dbName == "" {
		t.dbName = "cadence_trace_" + t.runID
	}

	if err := t.createDatabase(); err != nil {
		return err
	}

	if err := t.createTables(); err != nil {
		return err
	}

	return t.prepareStatements()
}

func (t *SQLiteTraceWriter) createDatabase() error {
	filename := t.FileName()
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return err
	}

	t.DB = db

	return nil
}

func (t *SQLiteTraceWriter) createTables() error {
	statements := []string{
		`create table trace
		(
			run_id        varchar(20)  not null,
			task_id       varchar(20)  not null,
			control_id    integer      not null,
			kind          varchar(20)  not null,
			what          varchar(200) not null,
			location      varchar(200) not null,
			position      varchar(100) not null,
			position_bars float        not null,
			fast_forward  integer      not null,
			error         text
		);`,
		`create index trace_task_id_uindex on trace (task_id);`,
		`create index trace_kind_index on trace (kind);`,
		`create index trace_what_index on trace (what);`,
		`create index trace_position_index on trace (position_bars);`,
		`create table step
		(
			task_id  varchar(20)  not null,
			position varchar(100) not null,
			what     varchar(200) not null,
			detail   text
		);`,
		`create index step_task_id_index on step (task_id);`,
	}

	for _, s := range statements {
		if _, err := t.Exec(s); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(s), err)
		}
	}

	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func (t *SQLiteTraceWriter) prepareStatements() error {
	stmt, err := t.Prepare(`INSERT INTO trace VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	t.taskStatement = stmt

	stmt, err = t.Prepare(`INSERT INTO step VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	t.stepStatement = stmt

	return nil
}

// Write buffers a task, flushing once the batch is full.
func (t *SQLiteTraceWriter) Write(task Task) error {
	t.lock.Lock()
	t.tasksToWriteToDB = append(t.tasksToWriteToDB, task)
	full := len(t.tasksToWriteToDB) >= t.batchSize
	t.lock.Unlock()

	if full {
		return t.Flush()
	}

	return nil
}

// Flush writes all the buffered tasks to the database in one transaction.
func (t *SQLiteTraceWriter) Flush() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if len(t.tasksToWriteToDB) == 0 || t.DB == nil {
		return nil
	}

	tx, err := t.Begin()
	if err != nil {
		return err
	}

	taskStmt := tx.Stmt(t.taskStatement)
	stepStmt := tx.Stmt(t.stepStatement)

	for _, task := range t.tasksToWriteToDB {
		if err := t.insert(taskStmt, stepStmt, task); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	t.tasksToWriteToDB = nil

	return nil
}

func (t *SQLiteTraceWriter) insert(taskStmt, stepStmt *sql.Stmt, task Task) error {
	var taskErr sql.NullString
	if task.Err != "" {
		taskErr = sql.NullString{String: task.Err, Valid: true}
	}

	ff := 0
	if task.FastForward {
		ff = 1
	}

	_, err := taskStmt.Exec(
		t.runID,
		task.ID,
		int64(task.ControlID),
		task.Kind,
		task.What,
		task.Where,
		task.Position.String(),
		task.Position.Float64(),
		ff,
		taskErr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}

	for _, step := range task.Steps {
		_, err := stepStmt.Exec(task.ID, step.Position.String(), step.What, step.Detail)
		if err != nil {
			return fmt.Errorf("failed to insert step of task %s: %w", task.ID, err)
		}
	}

	return nil
}

// TaskQuery selects tasks. Empty fields are ignored.
type TaskQuery struct {
	Kind  string
	What  string
	Where string
}

// SQLiteTraceReader is a reader that reads trace data from a SQLite database.
type SQLiteTraceReader struct {
	*sql.DB

	filename string
}

// NewSQLiteTraceReader creates a new SQLiteTraceReader.
func NewSQLiteTraceReader(filename string) *SQLiteTraceReader {
	return &SQLiteTraceReader{filename: filename}
}

// Init establishes a connection to the database.
func (r *SQLiteTraceReader) Init() error {
	db, err := sql.Open("sqlite3", r.filename)
	if err != nil {
		return err
	}

	r.DB = db

	return nil
}

// ListLabels returns the distinct task labels in the trace.
func (r *SQLiteTraceReader) ListLabels() ([]string, error) {
	rows, err := r.Query("SELECT DISTINCT what FROM trace ORDER BY what")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}

	return labels, rows.Err()
}

// ListTasks returns the tasks matching the query ordered by position.
func (r *SQLiteTraceReader) ListTasks(query TaskQuery) ([]Task, error) {
	sqlStr := `SELECT task_id, control_id, kind, what, location, position,
		fast_forward, error FROM trace`

	var (
		conds []string
		args  []any
	)

	for _, c := range []struct {
		column string
		value  string
	}{
		{"kind", query.Kind},
		{"what", query.What},
		{"location", query.Where},
	} {
		if c.value != "" {
			conds = append(conds, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	if len(conds) > 0 {
		sqlStr += " WHERE " + strings.Join(conds, " AND ")
	}
	sqlStr += " ORDER BY position_bars, rowid"

	rows, err := r.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		steps, err := r.listSteps(tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].Steps = steps
	}

	return tasks, nil
}

func scanTask(rows *sql.Rows) (Task, error) {
	var (
		task      Task
		controlID int64
		position  string
		ff        int
		taskErr   sql.NullString
	)

	err := rows.Scan(&task.ID, &controlID, &task.Kind, &task.What,
		&task.Where, &position, &ff, &taskErr)
	if err != nil {
		return Task{}, err
	}

	pos, err := timing.Parse(position)
	if err != nil {
		return Task{}, err
	}

	task.ControlID = id.ID(controlID)
	task.Position = pos
	task.FastForward = ff != 0
	task.Err = taskErr.String

	return task, nil
}

func (r *SQLiteTraceReader) listSteps(taskID string) ([]TaskStep, error) {
	rows, err := r.Query(
		"SELECT position, what, detail FROM step WHERE task_id = ? ORDER BY rowid",
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []TaskStep
	for rows.Next() {
		var (
			position string
			step     TaskStep
			detail   sql.NullString
		)

		if err := rows.Scan(&position, &step.What, &detail); err != nil {
			return nil, err
		}

		pos, err := timing.Parse(position)
		if err != nil {
			return nil, err
		}

		step.Position = pos
		step.Detail = detail.String
		steps = append(steps, step)
	}

	return steps, rows.Err()
}
