package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/cancer-navigator/internal/apperr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS sessions_expires_at ON sessions (expires_at);
`

type sessionRow struct {
	ID        string `db:"session_id"`
	Data      string `db:"data"`
	ExpiresAt string `db:"expires_at"`
}

// SQLiteStore persists sessions so they survive a restart. A janitor
// goroutine deletes expired rows.
type SQLiteStore struct {
	db     *sqlx.DB
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	stop chan struct{}
	done chan struct{}
}

func NewSQLiteStore(dbPath string, ttl time.Duration, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLiteStore{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.janitor(ttl / 3)
	return s, nil
}

func (s *SQLiteStore) Close() error {
	close(s.stop)
	<-s.done
	return s.db.Close()
}

func (s *SQLiteStore) janitor(every time.Duration) {
	defer close(s.done)
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			n, err := s.Sweep(context.Background())
			if err != nil {
				s.logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("session sweep", zap.Int64("expired", n))
			}
		}
	}
}

// Sweep deletes expired sessions, drops their locks and reports how many went.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, "SELECT session_id FROM sessions WHERE expires_at <= ?", formatTime(s.now())); err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}
	var swept int64
	for _, id := range ids {
		n, err := s.expire(ctx, id)
		if err != nil {
			return swept, err
		}
		swept += n
	}
	return swept, nil
}

// expire deletes one session if it is still expired. A Get that touched the
// row since it was listed keeps it alive.
func (s *SQLiteStore) expire(ctx context.Context, id string) (int64, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ? AND expires_at <= ?", id, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("delete expired session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.dropLock(id)
	}
	return n, nil
}

func (s *SQLiteStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *SQLiteStore) dropLock(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

func (s *SQLiteStore) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *SQLiteStore) forgetMissing(id string, err error) {
	if apperr.Is(err, apperr.CodeNotFound) {
		s.dropLock(id)
	}
}

func (s *SQLiteStore) Create(ctx context.Context) (Session, error) {
	sess := newSession(s.now().UTC())
	if err := s.save(ctx, sess, true); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Session, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	sess, err := s.load(ctx, id)
	if err != nil {
		s.forgetMissing(id, err)
		return Session{}, err
	}
	if err := s.touch(ctx, id); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	cur, err := s.load(ctx, id)
	if err != nil {
		s.forgetMissing(id, err)
		return Session{}, err
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return cur, err
	}
	next.ID = cur.ID
	next.UpdatedAt = s.now().UTC()
	if err := s.save(ctx, next, false); err != nil {
		return cur, err
	}
	return next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer s.dropLock(id)
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLiteStore) load(ctx context.Context, id string) (Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, "SELECT session_id, data, expires_at FROM sessions WHERE session_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, notFound(id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if exp, err := time.Parse(timeLayout, row.ExpiresAt); err == nil && !s.now().Before(exp) {
		return Session{}, notFound(id)
	}
	var sess Session
	if err := json.Unmarshal([]byte(row.Data), &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) save(ctx context.Context, sess Session, insert bool) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	expires := formatTime(s.now().Add(s.ttl))
	if insert {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO sessions (session_id, data, created_at, updated_at, expires_at) VALUES (?, ?, ?, ?, ?)",
			sess.ID, string(data), formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt), expires)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE sessions SET data = ?, updated_at = ?, expires_at = ? WHERE session_id = ?",
			string(data), formatTime(sess.UpdatedAt), expires, sess.ID)
	}
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE sessions SET expires_at = ? WHERE session_id = ?", formatTime(s.now().Add(s.ttl)), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
