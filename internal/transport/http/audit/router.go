// Package audithttp 暴露审计服务的 HTTP 接口。
package audithttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/export"
	"agentaudit/internal/ledger"
	"agentaudit/internal/logger"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/yield"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// DecisionService 是决策记录的业务接口（由 audit.Service 实现）。
type DecisionService interface {
	Append(ctx context.Context, rec decision.Record) (decision.Record, error)
	Get(ctx context.Context, id string) (decision.Record, error)
	Query(ctx context.Context, f decision.Filter) (decision.Page, error)
	Export(ctx context.Context, w io.Writer, format export.Format, f decision.Filter) (int, error)
}

// Ledger 是承诺账本接口（由 ledger.Service 实现）。
type Ledger interface {
	Commit(ctx context.Context, hash string, trace json.RawMessage, commitment string) (ledger.CommitResult, error)
	Verify(ctx context.Context, hash string) (ledger.Entry, error)
	ListRecent(ctx context.Context, n int) ([]ledger.Entry, error)
	Count(ctx context.Context) (int, error)
}

type YieldRanker interface {
	Rank(ctx context.Context, q yield.Query) (yield.Result, error)
}

// YieldDefaults 是 /yields 未带阈值参数时使用的默认值。
type YieldDefaults struct {
	MinAPY float64
	MinTVL float64
}

type RouterConfig struct {
	Decisions     DecisionService
	Ledger        Ledger
	Yields        YieldRanker
	PublicBaseURL string
	ExportPrefix  string
	YieldDefaults YieldDefaults
}

type Router struct {
	decisions     DecisionService
	ledger        Ledger
	yields        YieldRanker
	publicBaseURL string
	exportPrefix  string
	yieldDefaults YieldDefaults
	now           func() time.Time
}

const (
	maxBodyBytes     = 1 << 20
	recentOnInfoPage = 10
)

func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		decisions:     cfg.Decisions,
		ledger:        cfg.Ledger,
		yields:        cfg.Yields,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		exportPrefix:  cfg.ExportPrefix,
		yieldDefaults: cfg.YieldDefaults,
		now:           time.Now,
	}
}

// Register 挂载全部审计路由。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/decisions", r.handleListDecisions)
	group.POST("/decisions", r.handleAppendDecision)
	group.GET("/decisions/:id", r.handleDecisionByID)
	group.GET("/export", r.handleExport)
	group.POST("/verify", r.handleCommit)
	group.GET("/verify", r.handleVerify)
	if r.yields != nil {
		group.GET("/yields", r.handleYields)
	}
}

func (r *Router) handleListDecisions(c *gin.Context) {
	f, err := parseFilter(c, true)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := r.decisions.Query(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Debugf("[api] decisions ip=%s types=%v protocols=%v limit=%d offset=%d total=%d",
		c.ClientIP(), f.Types, f.Protocols, f.Limit, f.Offset, page.Total)
	c.IndentedJSON(http.StatusOK, gin.H{
		"success":   true,
		"query":     f,
		"count":     len(page.Items),
		"total":     page.Total,
		"decisions": page.Items,
		"pagination": gin.H{
			"limit":   page.Limit,
			"offset":  page.Offset,
			"hasMore": page.HasMore,
		},
	})
}

func (r *Router) handleDecisionByID(c *gin.Context) {
	rec, err := r.decisions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"success": true, "decision": rec})
}

// decisionRequest 在记录字段之外接受 confidencePct（仅当 confidence 缺省时使用）。
type decisionRequest struct {
	decision.Record
	ConfidencePct *float64 `json:"confidencePct,omitempty"`
}

func (r *Router) handleAppendDecision(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := validateBody(decisionSchema, body); err != nil {
		respondError(c, err)
		return
	}
	var req decisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(c, apperr.Validationf("decode decision: %v", err))
		return
	}
	rec := req.Record
	if !gjson.GetBytes(body, "confidence").Exists() {
		if req.ConfidencePct == nil {
			respondError(c, apperr.Validationf("confidence (0-1) or confidencePct (0-100) is required"))
			return
		}
		rec.Confidence = decision.ConfidenceFromPercent(*req.ConfidencePct)
	}
	stored, err := r.decisions.Append(c.Request.Context(), rec)
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Infof("[api] decision appended ip=%s id=%s type=%s", c.ClientIP(), stored.ID, stored.Type)
	c.IndentedJSON(http.StatusCreated, gin.H{"success": true, "id": stored.ID, "decision": stored})
}

func (r *Router) handleExport(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, err)
		return
	}
	f, err := parseFilter(c, false)
	if err != nil {
		respondError(c, err)
		return
	}
	var buf bytes.Buffer
	n, err := r.decisions.Export(c.Request.Context(), &buf, format, f)
	if err != nil {
		respondError(c, err)
		return
	}
	filename := export.Filename(r.exportPrefix, format, r.now())
	logger.Infof("[api] export ip=%s format=%s records=%d file=%s", c.ClientIP(), format, n, filename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

type commitRequest struct {
	Hash       string          `json:"hash"`
	Trace      json.RawMessage `json:"trace"`
	Commitment *string         `json:"commitment"`
}

func (r *Router) handleCommit(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := validateBody(verifySchema, body); err != nil {
		respondError(c, err)
		return
	}
	var req commitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(c, apperr.Validationf("decode request: %v", err))
		return
	}
	commitment := ""
	if req.Commitment != nil {
		commitment = *req.Commitment
	}
	res, err := r.ledger.Commit(c.Request.Context(), req.Hash, req.Trace, commitment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"success":   true,
		"hash":      res.Hash,
		"status":    res.Status,
		"verifyUrl": r.verifyURL(c, res.Hash),
	})
}

func (r *Router) handleVerify(c *gin.Context) {
	hash := strings.TrimSpace(c.Query("hash"))
	if hash == "" {
		r.handleVerifyInfo(c)
		return
	}
	entry, err := r.ledger.Verify(c.Request.Context(), hash)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			c.IndentedJSON(http.StatusNotFound, gin.H{
				"found":      false,
				"hash":       hash,
				"suggestion": "No commitment is recorded for this hash. Check that the hash was computed over the exact trace, or POST /verify to record it.",
			})
			return
		}
		respondError(c, err)
		return
	}
	resp := gin.H{
		"found":        true,
		"hash":         entry.Hash,
		"trace":        entry.Trace,
		"recordedAt":   entry.RecordedAt,
		"verification": entry.Verification,
	}
	if entry.Commitment != "" {
		resp["commitment"] = entry.Commitment
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (r *Router) handleVerifyInfo(c *gin.Context) {
	ctx := c.Request.Context()
	total, err := r.ledger.Count(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	recent, err := r.ledger.ListRecent(ctx, recentOnInfoPage)
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]gin.H, 0, len(recent))
	for _, e := range recent {
		item := gin.H{
			"hash":       e.Hash,
			"status":     e.Verification.Status,
			"recordedAt": e.RecordedAt,
			"verifyUrl":  r.verifyURL(c, e.Hash),
		}
		if e.Commitment != "" {
			item["commitment"] = e.Commitment
		}
		items = append(items, item)
	}
	c.IndentedJSON(http.StatusOK, gin.H{
		"protocol":        ledger.ProtocolName,
		"description":     "Hash-based commitments for agent decision traces. Submit a trace with its hash, then anyone can look the hash up and confirm the recorded trace.",
		"totalDecisions":  total,
		"recentDecisions": items,
		"docs": gin.H{
			"commit": "POST /verify {hash, trace, commitment?} -> {success, hash, status, verifyUrl}",
			"verify": "GET /verify?hash=<hash> -> {found, hash, trace, commitment?, recordedAt, verification}",
			"hash":   "Recommended hash: " + ledger.HashPrefix + "<hex sha256 of the trace re-encoded as JSON with sorted object keys>",
		},
		"integration": gin.H{
			"statuses":   []ledger.Status{ledger.StatusLocalRecord, ledger.StatusCommittedOnchain},
			"commitment": "Optional external anchor reference, e.g. the signature of the transaction that carries the hash in a memo.",
			"hashMatch":  "verification.hashMatch is true when the stored trace re-hashes to the looked-up key.",
		},
	})
}

func (r *Router) handleYields(c *gin.Context) {
	q := yield.Query{MinAPY: r.yieldDefaults.MinAPY, MinTVL: r.yieldDefaults.MinTVL}
	var err error
	if raw := strings.TrimSpace(c.Query("extended")); raw != "" {
		if q.Extended, err = strconv.ParseBool(raw); err != nil {
			respondError(c, apperr.Validationf("extended must be a boolean, got %q", raw))
			return
		}
	}
	if q.MinAPY, err = parseFloatParam(c, "minApy", q.MinAPY); err != nil {
		respondError(c, err)
		return
	}
	if q.MinTVL, err = parseFloatParam(c, "minTvl", q.MinTVL); err != nil {
		respondError(c, err)
		return
	}
	res, err := r.yields.Rank(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (r *Router) verifyURL(c *gin.Context, hash string) string {
	base := r.publicBaseURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/verify?hash=" + url.QueryEscape(hash)
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return nil, apperr.Validationf("read request body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, apperr.Validationf("request body exceeds %d bytes", maxBodyBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperr.Validationf("request body is required")
	}
	return body, nil
}

// respondError 按错误分类返回 {error}；内部与上游错误只记录日志，不回传细节。
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	switch kind {
	case apperr.KindInternal, apperr.KindUpstream:
		logger.Errorf("[api] %s %s failed ip=%s err=%v", c.Request.Method, c.Request.URL.Path, c.ClientIP(), err)
	default:
		logger.Debugf("[api] %s %s rejected ip=%s status=%d err=%v", c.Request.Method, c.Request.URL.Path, c.ClientIP(), status, err)
	}
	c.IndentedJSON(status, gin.H{"error": apperr.PublicMessage(err)})
	c.Abort()
}
