// Package memstore 提供进程内的决策/承诺存储，用于测试隔离与演示模式。
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/store"
)

type DecisionStore struct {
	mu      sync.RWMutex
	records map[string]decision.Record
}

var _ store.DecisionStore = (*DecisionStore)(nil)

func NewDecisionStore() *DecisionStore {
	return &DecisionStore{records: make(map[string]decision.Record)}
}

func (s *DecisionStore) Append(_ context.Context, rec decision.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return apperr.Conflictf("decision %s already recorded; records are immutable", rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *DecisionStore) Get(_ context.Context, id string) (decision.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return decision.Record{}, apperr.NotFoundf("decision %s not found", id)
	}
	return rec.Clone(), nil
}

func (s *DecisionStore) List(_ context.Context, from, to int64) ([]decision.Record, error) {
	s.mu.RLock()
	out := make([]decision.Record, 0, len(s.records))
	for _, rec := range s.records {
		if from > 0 && rec.Timestamp < from {
			continue
		}
		if to > 0 && rec.Timestamp > to {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *DecisionStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *DecisionStore) Close() error { return nil }

type CommitmentStore struct {
	mu      sync.RWMutex
	entries map[string]commitmentEntry
	seq     int64
	now     func() time.Time
}

type commitmentEntry struct {
	c   store.Commitment
	seq int64
}

var _ store.CommitmentStore = (*CommitmentStore)(nil)

func NewCommitmentStore() *CommitmentStore {
	return &CommitmentStore{entries: make(map[string]commitmentEntry), now: time.Now}
}

func (s *CommitmentStore) Put(_ context.Context, c store.Commitment, mode store.PutMode) (store.Commitment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[c.Hash]; ok && mode == store.PutIfAbsent {
		return cloneCommitment(existing.c), false, nil
	}
	if c.RecordedAt.IsZero() {
		c.RecordedAt = s.now()
	}
	c.RecordedAt = c.RecordedAt.UTC().Truncate(time.Millisecond)
	c = cloneCommitment(c)
	s.seq++
	s.entries[c.Hash] = commitmentEntry{c: c, seq: s.seq}
	return cloneCommitment(c), true, nil
}

func (s *CommitmentStore) Get(_ context.Context, hash string) (store.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[hash]
	if !ok {
		return store.Commitment{}, apperr.NotFoundf("no commitment recorded for hash %s", hash)
	}
	return cloneCommitment(e.c), nil
}

func (s *CommitmentStore) ListRecent(_ context.Context, n int) ([]store.Commitment, error) {
	s.mu.RLock()
	all := make([]commitmentEntry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	if n < 0 {
		n = 0
	}
	if len(all) > n {
		all = all[:n]
	}
	out := make([]store.Commitment, 0, len(all))
	for _, e := range all {
		out = append(out, cloneCommitment(e.c))
	}
	return out, nil
}

func (s *CommitmentStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *CommitmentStore) Close() error { return nil }

func cloneCommitment(c store.Commitment) store.Commitment {
	c.Trace = append([]byte(nil), c.Trace...)
	return c
}
