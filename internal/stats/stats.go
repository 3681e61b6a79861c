// Package stats derives daily, weekly and monthly rollups from ledger sessions.
// Nothing here is persisted; every figure is recomputed on demand.
package stats

import (
	"sort"
	"time"

	"genwatch/internal/ledger"
)

const dateLayout = "2006-01-02"

// DailyStats aggregates the sessions started on one calendar day.
type DailyStats struct {
	Date               string  `json:"date"`
	TotalRuntimeHours  float64 `json:"total_runtime_hours"`
	TotalFuelLiters    float64 `json:"total_fuel_liters"`
	TotalCost          float64 `json:"total_cost"`
	SessionsCount      int     `json:"sessions_count"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
}

// MonthlyStats aggregates one calendar month with per-day buckets.
type MonthlyStats struct {
	Month             string       `json:"month"`
	TotalRuntimeHours float64      `json:"total_runtime_hours"`
	TotalFuelLiters   float64      `json:"total_fuel_liters"`
	TotalCost         float64      `json:"total_cost"`
	SessionsCount     int          `json:"sessions_count"`
	AvgPerDay         float64      `json:"avg_per_day"`
	Daily             []DailyStats `json:"daily_stats"`
}

// Daily aggregates the sessions whose start falls on date's calendar day.
// Open sessions count towards the session total but add no runtime or fuel.
func Daily(date time.Time, sessions []*ledger.Session, pricePerLiter float64) DailyStats {
	y, m, d := date.Date()
	var day []*ledger.Session
	for _, s := range sessions {
		sy, sm, sd := s.StartTime.Date()
		if sy == y && sm == m && sd == d {
			day = append(day, s)
		}
	}
	return summarize(date.Format(dateLayout), day, pricePerLiter)
}

// Monthly aggregates the sessions started in year/month and buckets them by day.
func Monthly(year int, month time.Month, sessions []*ledger.Session, pricePerLiter float64) MonthlyStats {
	ms := MonthlyStats{Month: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")}

	buckets := make(map[string][]*ledger.Session)
	for _, s := range sessions {
		if s.StartTime.Year() != year || s.StartTime.Month() != month {
			continue
		}
		key := s.StartTime.Format(dateLayout)
		buckets[key] = append(buckets[key], s)

		ms.TotalRuntimeHours += s.Hours()
		ms.TotalFuelLiters += s.Fuel()
		ms.SessionsCount++
	}
	ms.TotalCost = ms.TotalFuelLiters * pricePerLiter

	for date, day := range buckets {
		ms.Daily = append(ms.Daily, summarize(date, day, pricePerLiter))
	}
	sort.Slice(ms.Daily, func(i, j int) bool { return ms.Daily[i].Date < ms.Daily[j].Date })

	if len(ms.Daily) > 0 {
		ms.AvgPerDay = ms.TotalRuntimeHours / float64(len(ms.Daily))
	}
	return ms
}

func summarize(date string, sessions []*ledger.Session, pricePerLiter float64) DailyStats {
	ds := DailyStats{Date: date, SessionsCount: len(sessions)}
	for _, s := range sessions {
		ds.TotalRuntimeHours += s.Hours()
		ds.TotalFuelLiters += s.Fuel()
	}
	ds.TotalCost = ds.TotalFuelLiters * pricePerLiter
	if ds.SessionsCount > 0 {
		ds.AvgSessionDuration = ds.TotalRuntimeHours / float64(ds.SessionsCount)
	}
	return ds
}
