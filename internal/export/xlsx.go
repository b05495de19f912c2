package export

import (
	"fmt"
	"io"
	"time"

	"agentaudit/internal/decision"

	"github.com/xuri/excelize/v2"
)

const (
	decisionsSheet  = "Decisions"
	statisticsSheet = "Statistics"
)

// WriteXLSX 写出两张表：Decisions（与 CSV 同列）和 Statistics（汇总与校验信息）。
func WriteXLSX(w io.Writer, records []decision.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", decisionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, decisionsSheet, 1, stringsToCells(Columns)); err != nil {
		return err
	}
	for i, rec := range records {
		if err := setRow(f, decisionsSheet, i+2, stringsToCells(Row(rec))); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(statisticsSheet); err != nil {
		return fmt.Errorf("create statistics sheet: %w", err)
	}
	env := BuildEnvelope(records, time.Time{})
	rows := [][]any{
		{"metric", "value"},
		{"totalDecisions", env.Statistics.TotalDecisions},
		{"executionRate", env.Statistics.ExecutionRate},
		{"avgConfidence", env.Statistics.AvgConfidence},
		{"errorRate", env.Statistics.ErrorRate},
		{"totalApyGained", env.Statistics.TotalApyGained},
		{"dateRangeStart", env.DateRange.Start},
		{"dateRangeEnd", env.DateRange.End},
		{"recordCount", env.Checksums.RecordCount},
		{"firstId", env.Checksums.FirstID},
		{"lastId", env.Checksums.LastID},
	}
	for i, row := range rows {
		if err := setRow(f, statisticsSheet, i+1, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func stringsToCells(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
