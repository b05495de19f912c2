package store

import (
	"context"
	"encoding/json"
	"time"

	"agentaudit/internal/decision"
)

// DecisionStore 持久化决策记录：只追加，按 ID 唯一。
type DecisionStore interface {
	// Append 写入一条新记录；ID 已存在时返回 conflict 错误，绝不覆盖。
	Append(ctx context.Context, rec decision.Record) error
	// Get 按 ID 读取，不存在时返回 not_found 错误。
	Get(ctx context.Context, id string) (decision.Record, error)
	// List 按时间倒序返回 [from, to] 区间内的记录，0 表示不限。
	List(ctx context.Context, from, to int64) ([]decision.Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Commitment 是承诺账本中的一条记录，以 trace 哈希为键。
type Commitment struct {
	Hash       string          `json:"hash"`
	Trace      json.RawMessage `json:"trace"`
	Commitment string          `json:"commitment,omitempty"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// PutMode 决定同一哈希重复写入时的行为。
type PutMode int

const (
	// PutOverwrite 原子 upsert，后写覆盖先写。
	PutOverwrite PutMode = iota
	// PutIfAbsent 仅在哈希不存在时写入，否则返回已有记录。
	PutIfAbsent
)

// CommitmentStore 是承诺账本的存储接口。
type CommitmentStore interface {
	// Put 以单条原子语句写入。inserted=false 表示 PutIfAbsent 命中已有记录，此时返回的是已有记录。
	Put(ctx context.Context, c Commitment, mode PutMode) (stored Commitment, inserted bool, err error)
	Get(ctx context.Context, hash string) (Commitment, error)
	// ListRecent 按最近写入时间倒序返回至多 n 条。
	ListRecent(ctx context.Context, n int) ([]Commitment, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
