package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/store"

	_ "modernc.org/sqlite"
)

// CommitmentStore 用原生 SQL 管理承诺账本，既可独立打开文件，也可复用 GORM 的连接。
type CommitmentStore struct {
	mu      sync.Mutex
	writeMu sync.Mutex
	db      *sql.DB
	path    string
	ownsDB  bool
	now     func() time.Time
}

var _ store.CommitmentStore = (*CommitmentStore)(nil)

// NewCommitmentStore 初始化独立的 SQLite 账本文件。
func NewCommitmentStore(path string) (*CommitmentStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("commitment store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureCommitmentSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &CommitmentStore{db: db, path: path, ownsDB: true, now: time.Now}, nil
}

// NewCommitmentStoreFromDB 复用外部（例如 GORM）初始化的连接，避免多连接锁冲突。
func NewCommitmentStoreFromDB(db *sql.DB) (*CommitmentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("external db 不能为空")
	}
	if err := ensureCommitmentSchema(db); err != nil {
		return nil, err
	}
	return &CommitmentStore{db: db, ownsDB: false, now: time.Now}, nil
}

// Close 仅在自己持有连接时关闭底层 DB。
func (s *CommitmentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.ownsDB {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureCommitmentSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_commitments (
			hash TEXT PRIMARY KEY,
			trace_json TEXT NOT NULL,
			commitment TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL,
			seq INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_commitments_seq ON ledger_commitments(seq DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *CommitmentStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("commitment store 未初始化")
	}
	return db, nil
}

// Put 单条语句完成写入：seq 取当前最大值+1，作为"最近写入"排序依据。
func (s *CommitmentStore) Put(ctx context.Context, c store.Commitment, mode store.PutMode) (store.Commitment, bool, error) {
	db, err := s.handle()
	if err != nil {
		return store.Commitment{}, false, err
	}
	if c.RecordedAt.IsZero() {
		c.RecordedAt = s.now()
	}
	c.RecordedAt = c.RecordedAt.UTC().Truncate(time.Millisecond)
	conflict := `ON CONFLICT(hash) DO UPDATE SET
			trace_json = excluded.trace_json,
			commitment = excluded.commitment,
			recorded_at = excluded.recorded_at,
			seq = excluded.seq`
	if mode == store.PutIfAbsent {
		conflict = `ON CONFLICT(hash) DO NOTHING`
	}
	// shared cache 下并发写会直接返回 SQLITE_LOCKED，busy_timeout 不生效。
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := db.ExecContext(ctx, `
		INSERT INTO ledger_commitments (hash, trace_json, commitment, recorded_at, seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_commitments))
		`+conflict,
		c.Hash, string(c.Trace), c.Commitment, c.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return store.Commitment{}, false, fmt.Errorf("put commitment %s: %w", c.Hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Commitment{}, false, err
	}
	if n == 0 {
		existing, err := s.Get(ctx, c.Hash)
		return existing, false, err
	}
	return c, true, nil
}

func (s *CommitmentStore) Get(ctx context.Context, hash string) (store.Commitment, error) {
	db, err := s.handle()
	if err != nil {
		return store.Commitment{}, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT hash, trace_json, commitment, recorded_at
		FROM ledger_commitments WHERE hash = ?`, hash)
	c, err := scanCommitment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Commitment{}, apperr.NotFoundf("no commitment recorded for hash %s", hash)
	}
	return c, err
}

func (s *CommitmentStore) ListRecent(ctx context.Context, n int) ([]store.Commitment, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []store.Commitment{}, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT hash, trace_json, commitment, recorded_at
		FROM ledger_commitments ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]store.Commitment, 0, n)
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CommitmentStore) Count(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_commitments`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommitment(row rowScanner) (store.Commitment, error) {
	var (
		c     store.Commitment
		trace string
		ms    int64
	)
	if err := row.Scan(&c.Hash, &trace, &c.Commitment, &ms); err != nil {
		return store.Commitment{}, err
	}
	c.Trace = []byte(trace)
	c.RecordedAt = time.UnixMilli(ms).UTC()
	return c, nil
}
