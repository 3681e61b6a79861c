package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"genwatch/internal/ledger"
	"genwatch/internal/stats"
)

const (
	summarySheet  = "summary"
	dailySheet    = "daily"
	sessionsSheet = "sessions"
)

// MonthXLSX renders a workbook with a summary, per-day totals and the month's sessions.
func MonthXLSX(ms stats.MonthlyStats, sessions []*ledger.Session, loc *time.Location, price float64, currency string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	for _, name := range []string{dailySheet, sessionsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	summary := [][2]any{
		{"Generator report", ms.Month},
		{"Runtime (h)", round(ms.TotalRuntimeHours, 2)},
		{"Fuel (l)", round(ms.TotalFuelLiters, 2)},
		{"Cost", round(ms.TotalCost, 2)},
		{"Currency", currency},
		{"Sessions", ms.SessionsCount},
		{"Average per day (h)", round(ms.AvgPerDay, 2)},
	}
	for i, kv := range summary {
		row := i + 1
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), kv[1])
	}

	for i, h := range []string{"Date", "Runtime (h)", "Fuel (l)", "Cost", "Sessions"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(dailySheet, cell, h)
	}
	for i, d := range ms.Daily {
		row := i + 2
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("A%d", row), d.Date)
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("B%d", row), round(d.TotalRuntimeHours, 2))
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("C%d", row), round(d.TotalFuelLiters, 2))
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("D%d", row), round(d.TotalCost, 2))
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("E%d", row), d.SessionsCount)
	}

	for i, h := range sessionHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sessionsSheet, cell, h)
	}
	for i, s := range sessions {
		for j, v := range sessionRow(s, loc, price) {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(sessionsSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func round(v float64, places int) float64 {
	p := 1.0
	for i := 0; i < places; i++ {
		p *= 10
	}
	if v < 0 {
		return -float64(int64(-v*p+0.5)) / p
	}
	return float64(int64(v*p+0.5)) / p
}
