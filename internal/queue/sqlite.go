package queue

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "regenbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const activeCollections = `SELECT name FROM collections WHERE UPPER(status) = 'ACTIVE'`

// SQLQueue is a Queue backed by SQLite.
//
// ClaimNext keeps a private prefetch buffer of candidate jobs so a busy
// scheduler does not hit the database for every claim. Buffered candidates
// are only hints: each one is claimed with a conditional update, and a
// candidate someone else already took is skipped.
type SQLQueue struct {
	db     *sql.DB
	log    logx.Logger
	ownsDB bool

	mu     sync.Mutex
	buf    []Job
	bufKey string
}

// Open opens (and migrates) the SQLite database at cfg.Path.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*SQLQueue, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	q := NewSQLQueue(db, log)
	q.ownsDB = true
	if err := q.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("migrate", err)
	}
	return q, nil
}

// NewSQLQueue wraps an already opened database. The caller keeps ownership of
// db; Close is a no-op for queues created this way.
func NewSQLQueue(db *sql.DB, log logx.Logger) *SQLQueue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SQLQueue{db: db, log: log}
}

// Migrate creates the schema if it does not exist yet.
func (q *SQLQueue) Migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, string(b))
	return err
}

func (q *SQLQueue) Close() error {
	if q == nil || q.db == nil || !q.ownsDB {
		return nil
	}
	return q.db.Close()
}

// DB exposes the underlying handle (health checks, tests).
func (q *SQLQueue) DB() *sql.DB { return q.db }

func (q *SQLQueue) ResetStaleRunning(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, touched_at = ? WHERE status = ?`,
		string(StatusPending), nowMS(), string(StatusRunning),
	)
	if err != nil {
		return 0, unavailable("reset stale", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("reset stale", err)
	}
	q.mu.Lock()
	q.buf = nil
	q.mu.Unlock()
	return n, nil
}

func (q *SQLQueue) ClaimNext(ctx context.Context, eligible []string, batch int) (Job, bool, error) {
	if batch <= 0 {
		batch = 1
	}
	key := eligibleKey(eligible)

	q.mu.Lock()
	defer q.mu.Unlock()

	if key != q.bufKey {
		q.buf = nil
		q.bufKey = key
	}

	refilled := false
	for {
		if len(q.buf) == 0 {
			// One refill per call: if every fresh candidate was taken by
			// another claimer the queue is contended, report empty.
			if refilled {
				return Job{}, false, nil
			}
			jobs, err := q.pending(ctx, eligible, batch)
			if err != nil {
				return Job{}, false, err
			}
			refilled = true
			if len(jobs) == 0 {
				return Job{}, false, nil
			}
			q.buf = jobs
		}

		j := q.buf[0]
		q.buf = q.buf[1:]

		ok, err := q.markRunning(ctx, j.ID)
		if err != nil {
			// Still PENDING in the store; keep it for the next attempt.
			q.buf = append([]Job{j}, q.buf...)
			return Job{}, false, err
		}
		if !ok {
			q.log.Trace("claim lost", logx.Int64("job", j.ID))
			continue
		}
		j.Status = StatusRunning
		j.Touched = time.Now()
		return j, true, nil
	}
}

func (q *SQLQueue) pending(ctx context.Context, eligible []string, limit int) ([]Job, error) {
	var (
		b    strings.Builder
		args = make([]any, 0, len(eligible)+2)
	)
	b.WriteString(`SELECT id, target, collection, touched_at FROM jobs WHERE status = ? AND collection IN (`)
	b.WriteString(activeCollections)
	b.WriteString(`)`)
	args = append(args, string(StatusPending))
	if len(eligible) > 0 {
		b.WriteString(` AND collection IN (`)
		for i, c := range eligible {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("?")
			args = append(args, c)
		}
		b.WriteString(`)`)
	}
	b.WriteString(` ORDER BY touched_at DESC, id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, unavailable("prefetch", err)
	}
	defer rows.Close()

	out := make([]Job, 0, limit)
	for rows.Next() {
		var (
			j  Job
			ms int64
		)
		if err := rows.Scan(&j.ID, &j.Target, &j.Collection, &ms); err != nil {
			return nil, unavailable("prefetch", err)
		}
		j.Status = StatusPending
		j.Touched = time.UnixMilli(ms)
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("prefetch", err)
	}
	return out, nil
}

func (q *SQLQueue) markRunning(ctx context.Context, id int64) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, touched_at = ?, note = NULL
		 WHERE id = ? AND status = ? AND collection IN (`+activeCollections+`)`,
		string(StatusRunning), nowMS(), id, string(StatusPending),
	)
	if err != nil {
		return false, unavailable("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("claim", err)
	}
	return n == 1, nil
}

// Release is a no-op for jobs that are not RUNNING, so a repeated or late
// release cannot clobber a newer state.
func (q *SQLQueue) Release(ctx context.Context, id int64, outcome Status, note string) error {
	if !outcome.Valid() || outcome == StatusRunning {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, touched_at = ?, note = ? WHERE id = ? AND status = ?`,
		string(outcome), nowMS(), nullStr(note), id, string(StatusRunning),
	)
	if err != nil {
		return unavailable("release", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		q.log.Debug("release ignored: job not running", logx.Int64("job", id), logx.String("outcome", string(outcome)))
	}
	return nil
}

// Enqueue makes target PENDING in collection, creating the row if needed.
// A RUNNING row is left alone so it cannot be handed out twice.
func (q *SQLQueue) Enqueue(ctx context.Context, collection, target string) (int64, error) {
	collection = strings.TrimSpace(collection)
	target = strings.TrimSpace(target)
	if collection == "" || target == "" {
		return 0, errors.New("enqueue: collection and target are required")
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO jobs(target, collection, status, touched_at) VALUES(?,?,?,?)
		 ON CONFLICT(collection, target) DO UPDATE
		 SET status = excluded.status, touched_at = excluded.touched_at, note = NULL
		 WHERE jobs.status != ?`,
		target, collection, string(StatusPending), nowMS(), string(StatusRunning),
	)
	if err != nil {
		return 0, unavailable("enqueue", err)
	}
	var id int64
	err = q.db.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE collection = ? AND target = ?`, collection, target,
	).Scan(&id)
	if err != nil {
		return 0, unavailable("enqueue", err)
	}
	return id, nil
}

// EnsureCollection registers name as ACTIVE unless it already exists; an
// existing status set by an operator is kept.
func (q *SQLQueue) EnsureCollection(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("collection name is required")
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO collections(name, status) VALUES(?,?) ON CONFLICT(name) DO NOTHING`,
		name, CollectionActive,
	)
	return unavailable("ensure collection", err)
}

func (q *SQLQueue) SetCollectionStatus(ctx context.Context, name, status string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO collections(name, status) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET status = excluded.status`,
		strings.TrimSpace(name), strings.ToUpper(strings.TrimSpace(status)),
	)
	return unavailable("set collection status", err)
}

// RequeueFailed moves FAILED jobs last touched before olderThan back to
// PENDING. Their timestamp is kept, so fresh work is still claimed first.
func (q *SQLQueue) RequeueFailed(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE status = ? AND touched_at < ?`,
		string(StatusPending), string(StatusFailed), olderThan.UnixMilli(),
	)
	if err != nil {
		return 0, unavailable("requeue failed", err)
	}
	n, err := res.RowsAffected()
	return n, unavailable("requeue failed", err)
}

// Counts returns the number of jobs per status.
func (q *SQLQueue) Counts(ctx context.Context) (map[Status]int64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, unavailable("counts", err)
	}
	defer rows.Close()
	out := map[Status]int64{}
	for rows.Next() {
		var (
			st string
			n  int64
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, unavailable("counts", err)
		}
		out[Status(st)] = n
	}
	return out, unavailable("counts", rows.Err())
}

func (q *SQLQueue) Get(ctx context.Context, id int64) (Job, error) {
	var (
		j    Job
		st   string
		ms   int64
		note sql.NullString
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, target, collection, status, touched_at, note FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Target, &j.Collection, &st, &ms, &note)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, unavailable("get", err)
	}
	j.Status = Status(st)
	j.Touched = time.UnixMilli(ms)
	j.Note = note.String
	return j, nil
}

func nowMS() int64 { return time.Now().UnixMilli() }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
