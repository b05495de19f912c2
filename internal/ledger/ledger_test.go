package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/logger"
	"agentaudit/internal/metrics"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/store"
	"agentaudit/internal/store/memstore"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, policy DuplicatePolicy) *Service {
	t.Helper()
	svc, err := NewService(memstore.NewCommitmentStore(), Options{Policy: policy})
	require.NoError(t, err)
	return svc
}

func TestCommitThenVerifyStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, PolicyOverwrite)
	trace := json.RawMessage(`{"decision":"rebalance","confidence":0.82}`)

	t.Run("without commitment is a local record", func(t *testing.T) {
		res, err := svc.Commit(ctx, "h-local", trace, "")
		require.NoError(t, err)
		assert.Equal(t, StatusLocalRecord, res.Status)

		entry, err := svc.Verify(ctx, "h-local")
		require.NoError(t, err)
		assert.Equal(t, StatusLocalRecord, entry.Verification.Status)
		assert.Equal(t, ProtocolName, entry.Verification.Protocol)
		assert.JSONEq(t, string(trace), string(entry.Trace))
		assert.Empty(t, entry.Commitment)
	})

	t.Run("with commitment is committed onchain", func(t *testing.T) {
		sig := decision.FixtureSignature("anchor")
		res, err := svc.Commit(ctx, "h-chain", trace, sig)
		require.NoError(t, err)
		assert.Equal(t, StatusCommittedOnchain, res.Status)

		entry, err := svc.Verify(ctx, "h-chain")
		require.NoError(t, err)
		assert.Equal(t, StatusCommittedOnchain, entry.Verification.Status)
		assert.Equal(t, sig, entry.Commitment)
	})
}

func TestVerifyReportsHashMatch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, PolicyOverwrite)
	trace := json.RawMessage(`{"decision":"hold","protocols":["kamino"]}`)
	h, err := HashTrace(trace)
	require.NoError(t, err)

	_, err = svc.Commit(ctx, h, trace, "")
	require.NoError(t, err)
	_, err = svc.Commit(ctx, "caller-chosen-key", trace, "")
	require.NoError(t, err)

	entry, err := svc.Verify(ctx, h)
	require.NoError(t, err)
	assert.True(t, entry.Verification.HashMatch)

	entry, err = svc.Verify(ctx, "caller-chosen-key")
	require.NoError(t, err)
	assert.False(t, entry.Verification.HashMatch)
}

func TestVerifyIgnoresDigestPrefixAndCase(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, PolicyReject)
	trace := json.RawMessage(`{"decision":"enter","protocols":["drift"]}`)
	h, err := HashTrace(trace)
	require.NoError(t, err)
	bare := strings.TrimPrefix(h, HashPrefix)

	res, err := svc.Commit(ctx, strings.ToUpper(bare), trace, "")
	require.NoError(t, err)
	assert.Equal(t, h, res.Hash)

	for _, q := range []string{h, bare, strings.ToUpper(h), "SHA256:" + bare} {
		entry, err := svc.Verify(ctx, q)
		require.NoError(t, err, q)
		assert.Equal(t, h, entry.Hash)
		assert.True(t, entry.Verification.HashMatch)
	}

	// 同一摘要的不同写法在 reject 策略下是同一条记录
	res, err = svc.Commit(ctx, h, trace, "")
	require.NoError(t, err)
	assert.False(t, res.Created)
	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Verify(ctx, "CALLER-CHOSEN-KEY")
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "opaque hashes stay exact")
}

func TestVerifyUnknownIsNotFound(t *testing.T) {
	m := metrics.New()
	svc, err := NewService(memstore.NewCommitmentStore(), Options{Metrics: m})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), "sha256:unknown")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("miss")))
}

func TestVerifyDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, PolicyOverwrite)
	_, err := svc.Commit(ctx, "h", json.RawMessage(`{"a":1}`), "")
	require.NoError(t, err)

	before, err := svc.ListRecent(ctx, 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _ = svc.Verify(ctx, "h")
		_, _ = svc.Verify(ctx, "missing")
	}
	after, err := svc.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCommitValidation(t *testing.T) {
	svc, err := NewService(memstore.NewCommitmentStore(), Options{AnchorValidator: decision.SolanaSignature})
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name       string
		hash       string
		trace      string
		commitment string
	}{
		{name: "missing hash", hash: "  ", trace: `{"a":1}`},
		{name: "missing trace", hash: "h", trace: ""},
		{name: "null trace", hash: "h", trace: "null"},
		{name: "invalid json", hash: "h", trace: `{"a":`},
		{name: "bad anchor", hash: "h", trace: `{"a":1}`, commitment: "not-a-signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Commit(ctx, tt.hash, json.RawMessage(tt.trace), tt.commitment)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}
	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDuplicatePolicyOverwrite(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, PolicyOverwrite)
	_, err := svc.Commit(ctx, "h", json.RawMessage(`{"v":1}`), "")
	require.NoError(t, err)
	res, err := svc.Commit(ctx, "h", json.RawMessage(`{"v":2}`), "anchor")
	require.NoError(t, err)
	assert.Equal(t, StatusCommittedOnchain, res.Status)
	assert.True(t, res.Created)

	entry, err := svc.Verify(ctx, "h")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(entry.Trace))
	assert.Equal(t, "anchor", entry.Commitment)
}

func TestDuplicatePolicyReject(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, PolicyReject)
	first, err := svc.Commit(ctx, "h", json.RawMessage(`{"v":1,"w":2}`), "")
	require.NoError(t, err)
	require.True(t, first.Created)

	t.Run("identical resubmission is idempotent", func(t *testing.T) {
		res, err := svc.Commit(ctx, "h", json.RawMessage(`{"w":2, "v":1}`), "")
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, StatusLocalRecord, res.Status)
		assert.Equal(t, first.RecordedAt, res.RecordedAt)
	})

	t.Run("different trace conflicts", func(t *testing.T) {
		_, err := svc.Commit(ctx, "h", json.RawMessage(`{"v":3}`), "")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})

	t.Run("adding a commitment later conflicts", func(t *testing.T) {
		_, err := svc.Commit(ctx, "h", json.RawMessage(`{"v":1,"w":2}`), "anchor")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
	})

	entry, err := svc.Verify(ctx, "h")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1,"w":2}`, string(entry.Trace))
}

func TestListRecentDefaultsAndOrder(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, PolicyOverwrite)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	for i := 0; i < 25; i++ {
		_, err := svc.Commit(ctx, fmt.Sprintf("h%02d", i), json.RawMessage(`{}`), "")
		require.NoError(t, err)
	}

	recent, err := svc.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultRecentLimit)
	assert.Equal(t, "h24", recent[0].Hash)
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i-1].RecordedAt.After(recent[i].RecordedAt))
	}

	recent, err = svc.ListRecent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestConcurrentCommitsAreIsolated(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, PolicyOverwrite)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Commit(ctx, fmt.Sprintf("k%d", i%4), json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)), "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestCommitWritesTrail(t *testing.T) {
	var buf bytes.Buffer
	logger.SetTrailWriter(&buf)
	defer logger.SetTrailWriter(nil)

	svc := newTestService(t, PolicyOverwrite)
	_, err := svc.Commit(context.Background(), "sha256:abc", json.RawMessage(`{"a": 1}`), "")
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "[TRAIL][commit][sha256:abc]")
	assert.Contains(t, out, `{"a":1}`)
	assert.True(t, strings.Contains(out, "local_record"))
}

type mockCommitmentStore struct {
	mock.Mock
}

func (m *mockCommitmentStore) Put(ctx context.Context, c store.Commitment, mode store.PutMode) (store.Commitment, bool, error) {
	args := m.Called(ctx, c, mode)
	return args.Get(0).(store.Commitment), args.Bool(1), args.Error(2)
}

func (m *mockCommitmentStore) Get(ctx context.Context, hash string) (store.Commitment, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(store.Commitment), args.Error(1)
}

func (m *mockCommitmentStore) ListRecent(ctx context.Context, n int) ([]store.Commitment, error) {
	args := m.Called(ctx, n)
	return args.Get(0).([]store.Commitment), args.Error(1)
}

func (m *mockCommitmentStore) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockCommitmentStore) Close() error { return nil }

func TestCommitUsesPutModeFromPolicy(t *testing.T) {
	ctx := context.Background()
	for policy, mode := range map[DuplicatePolicy]store.PutMode{
		PolicyOverwrite: store.PutOverwrite,
		PolicyReject:    store.PutIfAbsent,
	} {
		t.Run(string(policy), func(t *testing.T) {
			st := &mockCommitmentStore{}
			st.On("Put", ctx, mock.AnythingOfType("store.Commitment"), mode).
				Return(store.Commitment{Hash: "h", Trace: json.RawMessage(`{}`)}, true, nil).Once()
			svc, err := NewService(st, Options{Policy: policy})
			require.NoError(t, err)
			_, err = svc.Commit(ctx, "h", json.RawMessage(`{}`), "")
			require.NoError(t, err)
			st.AssertExpectations(t)
		})
	}
}

func TestCommitStoreFailureIsWrapped(t *testing.T) {
	ctx := context.Background()
	st := &mockCommitmentStore{}
	boom := errors.New("disk full")
	st.On("Put", ctx, mock.Anything, store.PutOverwrite).Return(store.Commitment{}, false, boom)
	svc, err := NewService(st, Options{})
	require.NoError(t, err)

	_, err = svc.Commit(ctx, "h", json.RawMessage(`{}`), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := ParseDuplicatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyOverwrite, p)
	p, err = ParseDuplicatePolicy(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)
	_, err = ParseDuplicatePolicy("version")
	assert.Error(t, err)
}
