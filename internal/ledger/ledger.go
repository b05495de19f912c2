// Package ledger 实现哈希承诺账本：commit 记录 trace，verify 只读查询。
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/logger"
	"agentaudit/internal/metrics"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/store"
)

type Status string

const (
	StatusCommittedOnchain Status = "committed_onchain"
	StatusLocalRecord      Status = "local_record"
)

// StatusOf 有 commitment 即视为已上链锚定。
func StatusOf(commitment string) Status {
	if strings.TrimSpace(commitment) != "" {
		return StatusCommittedOnchain
	}
	return StatusLocalRecord
}

// DuplicatePolicy 决定同一哈希再次 commit 时的处理方式。
type DuplicatePolicy string

const (
	// PolicyOverwrite 后写覆盖先写（原子 upsert）。
	PolicyOverwrite DuplicatePolicy = "overwrite"
	// PolicyReject 先写为准；内容完全相同的重复提交视为幂等成功，否则冲突。
	PolicyReject DuplicatePolicy = "reject"
)

func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyOverwrite, nil
	case PolicyOverwrite, PolicyReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (want overwrite|reject)", raw)
	}
}

const (
	// ProtocolName 出现在 verify 响应里，标识哈希与承诺的格式版本。
	ProtocolName       = "agentaudit-trace-commitment/v1"
	DefaultRecentLimit = 20
)

type Options struct {
	Policy      DuplicatePolicy
	RecentLimit int
	// AnchorValidator 非空时校验 commitment 格式（例如 Solana 交易签名）。
	AnchorValidator decision.TxIDValidator
	Metrics         *metrics.Metrics
}

type Service struct {
	store          store.CommitmentStore
	policy         DuplicatePolicy
	recentLimit    int
	validateAnchor decision.TxIDValidator
	metrics        *metrics.Metrics
	now            func() time.Time
}

func NewService(st store.CommitmentStore, opts Options) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("ledger: commitment store is required")
	}
	policy, err := ParseDuplicatePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	limit := opts.RecentLimit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Service{
		store:          st,
		policy:         policy,
		recentLimit:    limit,
		validateAnchor: opts.AnchorValidator,
		metrics:        opts.Metrics,
		now:            time.Now,
	}, nil
}

func (s *Service) Policy() DuplicatePolicy { return s.policy }

type CommitResult struct {
	Hash       string    `json:"hash"`
	Status     Status    `json:"status"`
	RecordedAt time.Time `json:"recordedAt"`
	// Created 为 false 表示 reject 策略下命中了内容相同的已有记录。
	Created bool `json:"-"`
}

// Commit 记录 hash → trace（以及可选的 commitment）。sha256 摘要按 CanonicalHash 归一后入库。
func (s *Service) Commit(ctx context.Context, hash string, trace json.RawMessage, commitment string) (CommitResult, error) {
	hash = CanonicalHash(hash)
	commitment = strings.TrimSpace(commitment)
	if hash == "" {
		return CommitResult{}, apperr.Validationf("hash is required")
	}
	if err := checkTrace(trace); err != nil {
		return CommitResult{}, err
	}
	if commitment != "" && s.validateAnchor != nil {
		if err := s.validateAnchor(commitment); err != nil {
			return CommitResult{}, apperr.Validationf("invalid commitment: %v", err)
		}
	}

	entry := store.Commitment{
		Hash:       hash,
		Trace:      compact(trace),
		Commitment: commitment,
		RecordedAt: s.now(),
	}
	mode := store.PutOverwrite
	if s.policy == PolicyReject {
		mode = store.PutIfAbsent
	}
	stored, inserted, err := s.store.Put(ctx, entry, mode)
	if err != nil {
		s.metrics.RecordCommit("error")
		return CommitResult{}, fmt.Errorf("commit %s: %w", hash, err)
	}
	if !inserted {
		if !sameTrace(stored.Trace, entry.Trace) || stored.Commitment != entry.Commitment {
			s.metrics.RecordCommit("conflict")
			return CommitResult{}, apperr.Conflictf("hash %s is already committed with a different trace or commitment", hash)
		}
		logger.Debugf("ledger: 重复提交 %s 与已有记录一致，按幂等处理", hash)
	}

	res := CommitResult{
		Hash:       stored.Hash,
		Status:     StatusOf(stored.Commitment),
		RecordedAt: stored.RecordedAt,
		Created:    inserted,
	}
	s.metrics.RecordCommit(string(res.Status))
	if inserted {
		logger.Infof("ledger: 已记录 %s status=%s", hash, res.Status)
		if logger.TrailEnabled() {
			logger.LogTrail("commit", hash,
				logger.TrailSection{Title: "status", Body: string(res.Status)},
				logger.TrailSection{Title: "commitment", Body: commitment},
				logger.TrailSection{Title: "trace", Body: string(entry.Trace)},
			)
		}
	}
	return res, nil
}

type Verification struct {
	Protocol  string `json:"protocol"`
	HashMatch bool   `json:"hashMatch"`
	Status    Status `json:"status"`
}

// Entry 是 verify 命中时返回的账本条目。
type Entry struct {
	Hash         string          `json:"hash"`
	Trace        json.RawMessage `json:"trace"`
	Commitment   string          `json:"commitment,omitempty"`
	RecordedAt   time.Time       `json:"recordedAt"`
	Verification Verification    `json:"verification"`
}

// Verify 纯查询，不修改任何状态；摘要的前缀与大小写不影响命中。未命中返回 not_found 错误。
func (s *Service) Verify(ctx context.Context, hash string) (Entry, error) {
	hash = CanonicalHash(hash)
	if hash == "" {
		return Entry{}, apperr.Validationf("hash is required")
	}
	c, err := s.store.Get(ctx, hash)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.metrics.RecordVerify(false)
		}
		return Entry{}, err
	}
	s.metrics.RecordVerify(true)
	return toEntry(c), nil
}

// ListRecent 返回最近写入的 n 条，n<=0 时使用默认上限。
func (s *Service) ListRecent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = s.recentLimit
	}
	items, err := s.store.ListRecent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("list recent commitments: %w", err)
	}
	out := make([]Entry, 0, len(items))
	for _, c := range items {
		out = append(out, toEntry(c))
	}
	return out, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

func toEntry(c store.Commitment) Entry {
	return Entry{
		Hash:       c.Hash,
		Trace:      c.Trace,
		Commitment: c.Commitment,
		RecordedAt: c.RecordedAt,
		Verification: Verification{
			Protocol:  ProtocolName,
			HashMatch: MatchesHash(c.Hash, c.Trace),
			Status:    StatusOf(c.Commitment),
		},
	}
}

func checkTrace(trace json.RawMessage) error {
	t := strings.TrimSpace(string(trace))
	if t == "" || t == "null" {
		return apperr.Validationf("trace is required")
	}
	if !json.Valid(trace) {
		return apperr.Validationf("trace must be valid JSON")
	}
	return nil
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return json.RawMessage(buf.Bytes())
}
