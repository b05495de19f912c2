package audithttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentaudit/internal/audit"
	"agentaudit/internal/decision"
	"agentaudit/internal/ledger"
	"agentaudit/internal/metrics"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/store/memstore"
	"agentaudit/internal/yield"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubYields struct {
	lastQuery yield.Query
	err       error
}

func (s *stubYields) Rank(_ context.Context, q yield.Query) (yield.Result, error) {
	s.lastQuery = q
	if s.err != nil {
		return yield.Result{}, s.err
	}
	return yield.Result{
		Count:              1,
		SupportedProtocols: []string{"kamino"},
		Yields:             []yield.Opportunity{{Protocol: "kamino-lend", Asset: "USDC", APY: 8.46, TVL: 120000000, Risk: yield.RiskLow, Supported: true, Pool: "p-1"}},
	}, nil
}

type fixture struct {
	handler http.Handler
	yields  *stubYields
}

func newFixture(t *testing.T, policy ledger.DuplicatePolicy) fixture {
	t.Helper()
	m := metrics.New()
	decisions, err := audit.NewService(memstore.NewDecisionStore(), audit.Options{TxValidator: decision.SolanaSignature, Metrics: m})
	require.NoError(t, err)
	_, err = decisions.SeedFixtures(context.Background())
	require.NoError(t, err)
	led, err := ledger.NewService(memstore.NewCommitmentStore(), ledger.Options{Policy: policy, Metrics: m})
	require.NoError(t, err)
	yields := &stubYields{}
	srv, err := NewServer(ServerConfig{
		Decisions:     decisions,
		Ledger:        led,
		Yields:        yields,
		Metrics:       m,
		PublicBaseURL: "https://audit.example.com/",
		ExportPrefix:  "solana-agent",
		YieldDefaults: YieldDefaults{MinTVL: 100000},
	})
	require.NoError(t, err)
	return fixture{handler: srv.Handler(), yields: yields}
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestListDecisions(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)

	rec := f.do(t, http.MethodGet, "/decisions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Body.String(), "\n    ", "pretty printed")
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, 2.0, body["total"])
	assert.Equal(t, map[string]any{"limit": 20.0, "offset": 0.0, "hasMore": false}, body["pagination"])

	rec = f.do(t, http.MethodGet, "/decisions?type=rebalance,exit&protocol=kamino&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeMap(t, rec)
	assert.Equal(t, 1.0, body["total"])
	decisions := body["decisions"].([]any)
	require.Len(t, decisions, 1)
	assert.Equal(t, "rebalance", decisions[0].(map[string]any)["type"])

	rec = f.do(t, http.MethodGet, "/decisions?limit=1&offset=0", "")
	body = decodeMap(t, rec)
	assert.Equal(t, true, body["pagination"].(map[string]any)["hasMore"])

	for _, offset := range []string{"5", "9223372036854775807"} {
		rec = f.do(t, http.MethodGet, "/decisions?offset="+offset, "")
		require.Equal(t, http.StatusOK, rec.Code)
		body = decodeMap(t, rec)
		assert.Empty(t, body["decisions"])
		assert.Equal(t, false, body["pagination"].(map[string]any)["hasMore"], "offset=%s", offset)
	}
}

func TestListDecisionsBadInput(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	for _, target := range []string{
		"/decisions?limit=0",
		"/decisions?limit=-3",
		"/decisions?limit=abc",
		"/decisions?offset=-1",
		"/decisions?type=yolo",
		"/decisions?from=yesterday",
		"/decisions?from=2025-01-03&to=2025-01-01",
	} {
		t.Run(target, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeMap(t, rec)["error"])
		})
	}
}

func TestListDecisionsDateRange(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	rec := f.do(t, http.MethodGet, "/decisions?from=2025-01-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decodeMap(t, rec)["total"])

	rec = f.do(t, http.MethodGet, "/decisions?to=2025-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decodeMap(t, rec)["total"])
}

func TestDecisionByID(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	rec := f.do(t, http.MethodGet, "/decisions/1735725600000-r3bal4nc0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1735725600000-r3bal4nc0", decodeMap(t, rec)["decision"].(map[string]any)["id"])

	rec = f.do(t, http.MethodGet, "/decisions/1735725600000-missing00", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppendDecision(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)

	rec := f.do(t, http.MethodPost, "/decisions", `{"type":"hold","confidencePct":73,"riskChange":"unchanged","reasoningPreview":"nothing beats current yield"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	stored := body["decision"].(map[string]any)
	assert.InDelta(t, 0.73, stored["confidence"].(float64), 1e-9)
	id := body["id"].(string)

	rec = f.do(t, http.MethodGet, "/decisions/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	tests := map[string]string{
		"both confidence forms": `{"type":"hold","confidence":0.5,"confidencePct":50,"reasoningPreview":"x"}`,
		"no confidence":         `{"type":"hold","riskChange":"unchanged","reasoningPreview":"x"}`,
		"confidence percent":    `{"type":"hold","confidence":73,"reasoningPreview":"x"}`,
		"missing preview":       `{"type":"hold","confidence":0.5}`,
		"unknown action":        `{"type":"exit","confidence":0.5,"reasoningPreview":"x","actions":[{"type":"bridge"}]}`,
		"executed no tx":        `{"type":"exit","confidence":0.5,"executed":true,"riskChange":"decreased","reasoningPreview":"x"}`,
		"not json":              `{"type":`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/decisions", payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestAppendDuplicateDecisionIsConflict(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	rec := f.do(t, http.MethodPost, "/decisions", `{"id":"1735812000000-h0ld2fx01","type":"hold","confidence":0.1,"riskChange":"unchanged","reasoningPreview":"rewrite"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	rec := f.do(t, http.MethodGet, "/export?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	disposition := rec.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, "attachment; filename=solana-agent-audit-"), disposition)
	assert.True(t, strings.HasSuffix(disposition, ".csv"), disposition)

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestExportJSON(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	rec := f.do(t, http.MethodGet, "/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasSuffix(rec.Header().Get("Content-Disposition"), ".json"))
	body := decodeMap(t, rec)
	stats := body["statistics"].(map[string]any)
	assert.Equal(t, 0.5, stats["executionRate"])
	assert.Equal(t, 0.865, stats["avgConfidence"])
	assert.Equal(t, 0.0, stats["errorRate"])
	checksums := body["checksums"].(map[string]any)
	assert.Equal(t, "1735812000000-h0ld2fx01", checksums["firstId"])
	assert.Equal(t, "1735725600000-r3bal4nc0", checksums["lastId"])

	rec = f.do(t, http.MethodGet, "/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitAndVerify(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	trace := `{"decision":"rebalance","inputs":{"apy":8.9}}`
	hash, err := ledger.HashTrace(json.RawMessage(trace))
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/verify", `{"hash":"`+hash+`","trace":`+trace+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "local_record", body["status"])
	assert.Equal(t, "https://audit.example.com/verify?hash="+strings.ReplaceAll(hash, ":", "%3A"), body["verifyUrl"])

	rec = f.do(t, http.MethodGet, "/verify?hash="+hash, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeMap(t, rec)
	assert.Equal(t, true, body["found"])
	assert.NotContains(t, body, "commitment")
	verification := body["verification"].(map[string]any)
	assert.Equal(t, true, verification["hashMatch"])
	assert.Equal(t, "local_record", verification["status"])
	assert.Equal(t, ledger.ProtocolName, verification["protocol"])

	bare := strings.ToUpper(strings.TrimPrefix(hash, ledger.HashPrefix))
	rec = f.do(t, http.MethodGet, "/verify?hash="+bare, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, hash, decodeMap(t, rec)["hash"])

	sig := decision.FixtureSignature("anchor")
	rec = f.do(t, http.MethodPost, "/verify", `{"hash":"h2","trace":{"a":1},"commitment":"`+sig+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "committed_onchain", decodeMap(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/verify?hash=h2", "")
	body = decodeMap(t, rec)
	assert.Equal(t, sig, body["commitment"])
	assert.Equal(t, false, body["verification"].(map[string]any)["hashMatch"])
}

func TestVerifyMiss(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	rec := f.do(t, http.MethodGet, "/verify?hash=sha256:nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, false, body["found"])
	assert.Equal(t, "sha256:nope", body["hash"])
	assert.NotEmpty(t, body["suggestion"])
}

func TestCommitBadRequests(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	for name, payload := range map[string]string{
		"missing hash":  `{"trace":{"a":1}}`,
		"missing trace": `{"hash":"h"}`,
		"null trace":    `{"hash":"h","trace":null}`,
		"empty hash":    `{"hash":"","trace":{}}`,
		"not json":      `hash=h`,
		"empty body":    ``,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(payload))
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeMap(t, rec)["error"])
		})
	}
}

func TestCommitRejectPolicyConflict(t *testing.T) {
	f := newFixture(t, ledger.PolicyReject)
	rec := f.do(t, http.MethodPost, "/verify", `{"hash":"h","trace":{"v":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/verify", `{"hash":"h","trace":{"v":1}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/verify", `{"hash":"h","trace":{"v":2}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVerifyInfo(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	f.do(t, http.MethodPost, "/verify", `{"hash":"first","trace":{"n":1}}`)
	f.do(t, http.MethodPost, "/verify", `{"hash":"second","trace":{"n":2}}`)

	rec := f.do(t, http.MethodGet, "/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	for _, key := range []string{"protocol", "description", "totalDecisions", "recentDecisions", "docs", "integration"} {
		assert.Contains(t, body, key)
	}
	assert.Equal(t, 2.0, body["totalDecisions"])
	recent := body["recentDecisions"].([]any)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].(map[string]any)["hash"])
}

func TestYields(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	rec := f.do(t, http.MethodGet, "/yields?extended=true&minApy=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, []any{"kamino"}, body["supported_protocols"])
	assert.Len(t, body["yields"], 1)
	assert.Equal(t, yield.Query{Extended: true, MinAPY: 5, MinTVL: 100000}, f.yields.lastQuery)

	for _, target := range []string{"/yields?extended=maybe", "/yields?minApy=high", "/yields?minTvl=1e"} {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, target, "").Code, target)
	}
}

func TestYieldsUpstreamErrorIsGeneric(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	f.yields.err = apperr.Upstream(errors.New("dial tcp 10.1.2.3:443: i/o timeout"), "yield data source unavailable")
	rec := f.do(t, http.MethodGet, "/yields", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"yield data source unavailable"}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, ledger.PolicyOverwrite)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
	f.do(t, http.MethodGet, "/verify?hash=missing", "")
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `agentaudit_verifications_total{result="miss"} 1`)
	assert.Contains(t, rec.Body.String(), `agentaudit_decisions_appended_total{result="ok"} 2`)
}
