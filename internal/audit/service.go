// Package audit 组合决策存储、查询与导出，是 HTTP 层之下的业务入口。
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"agentaudit/internal/decision"
	"agentaudit/internal/export"
	"agentaudit/internal/logger"
	"agentaudit/internal/metrics"
	"agentaudit/internal/pkg/apperr"
	"agentaudit/internal/store"
)

type Options struct {
	// TxValidator 校验 txIds，nil 时只要求非空。
	TxValidator decision.TxIDValidator
	// MaxExportRecords 限制单次导出条数，0 表示不限。
	MaxExportRecords int
	Metrics          *metrics.Metrics
}

type Service struct {
	store     store.DecisionStore
	checkTx   decision.TxIDValidator
	maxExport int
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(st store.DecisionStore, opts Options) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("audit: decision store is required")
	}
	checkTx := opts.TxValidator
	if checkTx == nil {
		checkTx = decision.AnyTxID
	}
	return &Service{
		store:     st,
		checkTx:   checkTx,
		maxExport: opts.MaxExportRecords,
		metrics:   opts.Metrics,
		now:       time.Now,
	}, nil
}

// Append 补齐派生字段、校验后写入；返回实际入库的记录。
func (s *Service) Append(ctx context.Context, rec decision.Record) (decision.Record, error) {
	rec.Normalize(s.now())
	if err := rec.Validate(s.checkTx); err != nil {
		s.metrics.RecordAppend("invalid")
		return decision.Record{}, err
	}
	if err := s.store.Append(ctx, rec); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			s.metrics.RecordAppend("conflict")
			return decision.Record{}, err
		}
		s.metrics.RecordAppend("error")
		return decision.Record{}, fmt.Errorf("append decision %s: %w", rec.ID, err)
	}
	s.metrics.RecordAppend("ok")
	logger.Infof("audit: 决策已记录 id=%s type=%s executed=%v confidence=%.2f", rec.ID, rec.Type, rec.Executed, float64(rec.Confidence))
	if logger.TrailEnabled() {
		body, _ := json.MarshalIndent(rec, "", "  ")
		logger.LogTrail("decision", rec.ID, logger.TrailSection{Title: "record", Body: string(body)})
	}
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (decision.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return decision.Record{}, apperr.Validationf("decision id is required")
	}
	return s.store.Get(ctx, id)
}

// Query 先按时间区间从存储读取（倒序），再交给查询引擎过滤分页。
func (s *Service) Query(ctx context.Context, f decision.Filter) (decision.Page, error) {
	if err := f.Validate(); err != nil {
		return decision.Page{}, err
	}
	records, err := s.store.List(ctx, f.From, f.To)
	if err != nil {
		return decision.Page{}, fmt.Errorf("list decisions: %w", err)
	}
	return decision.Query(records, f)
}

// Records 返回满足过滤条件的全部记录（忽略分页字段）。
func (s *Service) Records(ctx context.Context, f decision.Filter) ([]decision.Record, error) {
	if f.From > 0 && f.To > 0 && f.From > f.To {
		return nil, apperr.Validationf("from (%d) is after to (%d)", f.From, f.To)
	}
	records, err := s.store.List(ctx, f.From, f.To)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return decision.Apply(records, f), nil
}

// Export 把过滤后的记录写成指定格式，返回导出条数。
func (s *Service) Export(ctx context.Context, w io.Writer, format export.Format, f decision.Filter) (int, error) {
	records, err := s.Records(ctx, f)
	if err != nil {
		return 0, err
	}
	if s.maxExport > 0 && len(records) > s.maxExport {
		return 0, apperr.Validationf("export would contain %d records (max %d); narrow the date range", len(records), s.maxExport)
	}
	if err := export.Write(w, format, records, s.now()); err != nil {
		return 0, fmt.Errorf("export %s: %w", format, err)
	}
	s.metrics.RecordExport(string(format))
	return len(records), nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// SeedFixtures 通过正常的 Append 路径写入演示记录；已存在的记录跳过。
func (s *Service) SeedFixtures(ctx context.Context) (int, error) {
	seeded := 0
	for _, rec := range decision.DemoRecords() {
		_, err := s.Append(ctx, rec)
		switch {
		case err == nil:
			seeded++
		case apperr.Is(err, apperr.KindConflict):
		default:
			return seeded, fmt.Errorf("seed fixture %s: %w", rec.ID, err)
		}
	}
	return seeded, nil
}
