// Package storetest 是各存储实现共用的契约测试。
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDecisionStore 对一个全新的 DecisionStore 执行契约测试。
func RunDecisionStore(t *testing.T, newStore func(t *testing.T) store.DecisionStore) {
	ctx := context.Background()

	t.Run("append and get round trip", func(t *testing.T) {
		s := newStore(t)
		for _, rec := range decision.DemoRecords() {
			require.NoError(t, s.Append(ctx, rec))
		}
		want := decision.DemoRecords()[1]
		got, err := s.Get(ctx, want.ID)
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Confidence, got.Confidence)
		assert.Equal(t, want.Protocols, got.Protocols)
		assert.Equal(t, want.Actions, got.Actions)
		assert.Equal(t, want.TxIDs, got.TxIDs)
		assert.Equal(t, want.RiskAnalysis, got.RiskAnalysis)
		assert.JSONEq(t, string(want.PortfolioSnapshot), string(got.PortfolioSnapshot))
		assert.Equal(t, want.FullReasoning, got.FullReasoning)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("duplicate id is a conflict and keeps the original", func(t *testing.T) {
		s := newStore(t)
		rec := decision.DemoRecords()[0]
		require.NoError(t, s.Append(ctx, rec))
		changed := rec.Clone()
		changed.ReasoningPreview = "tampered"
		err := s.Append(ctx, changed)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ReasoningPreview, got.ReasoningPreview)
	})

	t.Run("missing id is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "1736000000000-missing00")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("list is newest first and honours range", func(t *testing.T) {
		s := newStore(t)
		base := int64(1736000000000)
		for i := 0; i < 5; i++ {
			ts := base + int64(i)*1000
			rec := decision.Record{
				ID: fmt.Sprintf("%d-seq%06d", ts, i), Timestamp: ts, Type: decision.TypeHold,
				RiskChange: decision.RiskUnchanged, ReasoningPreview: "hold",
				Protocols: []string{}, Assets: []string{}, Actions: []decision.Action{}, TxIDs: []string{},
			}
			require.NoError(t, s.Append(ctx, rec))
		}
		all, err := s.List(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i := 1; i < len(all); i++ {
			assert.Greater(t, all[i-1].Timestamp, all[i].Timestamp)
		}
		ranged, err := s.List(ctx, base+1000, base+3000)
		require.NoError(t, err)
		assert.Len(t, ranged, 3)
	})

	t.Run("stored records are isolated from caller mutation", func(t *testing.T) {
		s := newStore(t)
		rec := decision.DemoRecords()[1]
		require.NoError(t, s.Append(ctx, rec))
		rec.Protocols[0] = "mutated"
		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "marinade", got.Protocols[0])
	})
}

// RunCommitmentStore 对一个全新的 CommitmentStore 执行契约测试。
func RunCommitmentStore(t *testing.T, newStore func(t *testing.T) store.CommitmentStore) {
	ctx := context.Background()
	trace := json.RawMessage(`{"decision":"rebalance","confidence":0.82}`)

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		at := time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
		stored, inserted, err := s.Put(ctx, store.Commitment{Hash: "h1", Trace: trace, RecordedAt: at}, store.PutOverwrite)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, at, stored.RecordedAt)

		got, err := s.Get(ctx, "h1")
		require.NoError(t, err)
		assert.JSONEq(t, string(trace), string(got.Trace))
		assert.Empty(t, got.Commitment)
		assert.True(t, at.Equal(got.RecordedAt))
	})

	t.Run("get unknown is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})

	t.Run("overwrite replaces", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Put(ctx, store.Commitment{Hash: "h1", Trace: trace}, store.PutOverwrite)
		require.NoError(t, err)
		_, inserted, err := s.Put(ctx, store.Commitment{Hash: "h1", Trace: json.RawMessage(`{"v":2}`), Commitment: "sig"}, store.PutOverwrite)
		require.NoError(t, err)
		assert.True(t, inserted)
		got, err := s.Get(ctx, "h1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got.Trace))
		assert.Equal(t, "sig", got.Commitment)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("put if absent keeps first", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Put(ctx, store.Commitment{Hash: "h1", Trace: trace}, store.PutIfAbsent)
		require.NoError(t, err)
		existing, inserted, err := s.Put(ctx, store.Commitment{Hash: "h1", Trace: json.RawMessage(`{"v":2}`)}, store.PutIfAbsent)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.JSONEq(t, string(trace), string(existing.Trace))
	})

	t.Run("list recent orders by last write", func(t *testing.T) {
		s := newStore(t)
		for _, h := range []string{"a", "b", "c"} {
			_, _, err := s.Put(ctx, store.Commitment{Hash: h, Trace: trace}, store.PutOverwrite)
			require.NoError(t, err)
		}
		_, _, err := s.Put(ctx, store.Commitment{Hash: "a", Trace: trace}, store.PutOverwrite)
		require.NoError(t, err)

		recent, err := s.ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "a", recent[0].Hash)
		assert.Equal(t, "c", recent[1].Hash)
	})

	t.Run("concurrent puts on one key never tear", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				body := json.RawMessage(fmt.Sprintf(`{"writer":%d}`, i))
				_, _, err := s.Put(ctx, store.Commitment{Hash: "shared", Trace: body, Commitment: fmt.Sprintf("c%d", i)}, store.PutOverwrite)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
		got, err := s.Get(ctx, "shared")
		require.NoError(t, err)
		var payload struct {
			Writer int `json:"writer"`
		}
		require.NoError(t, json.Unmarshal(got.Trace, &payload))
		assert.Equal(t, fmt.Sprintf("c%d", payload.Writer), got.Commitment, "trace and commitment must come from the same write")
	})
}
