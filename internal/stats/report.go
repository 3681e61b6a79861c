package stats

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// Report renders an HTML-formatted report for period.
func (s *Service) Report(ctx context.Context, period Period) (string, error) {
	switch period {
	case PeriodToday:
		ds, err := s.Today(ctx)
		if err != nil {
			return "", err
		}
		return s.FormatDaily(ds, "Today"), nil
	case PeriodYesterday:
		ds, err := s.Yesterday(ctx)
		if err != nil {
			return "", err
		}
		return s.FormatDaily(ds, "Yesterday"), nil
	case PeriodWeek:
		week, err := s.Week(ctx)
		if err != nil {
			return "", err
		}
		return s.FormatWeek(week), nil
	case PeriodMonth:
		ms, err := s.Month(ctx, 0, 0)
		if err != nil {
			return "", err
		}
		return s.FormatMonth(ms), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
}

// FormatDaily renders one day.
func (s *Service) FormatDaily(ds DailyStats, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Report: %s</b>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "📅 Date: %s\n\n", ds.Date)
	fmt.Fprintf(&b, "⏱️ Runtime: %.2f h\n", ds.TotalRuntimeHours)
	fmt.Fprintf(&b, "⛽ Fuel used: %.2f l\n", ds.TotalFuelLiters)
	fmt.Fprintf(&b, "💰 Cost: %.2f %s\n", ds.TotalCost, s.currencyLabel())
	fmt.Fprintf(&b, "🔄 Starts: %d\n", ds.SessionsCount)
	fmt.Fprintf(&b, "📈 Average run: %.2f h", ds.AvgSessionDuration)
	return b.String()
}

// FormatWeek renders a newest-first week oldest to newest.
func (s *Service) FormatWeek(week []DailyStats) string {
	var runtime, fuel, cost float64
	var count int
	for _, ds := range week {
		runtime += ds.TotalRuntimeHours
		fuel += ds.TotalFuelLiters
		cost += ds.TotalCost
		count += ds.SessionsCount
	}

	var b strings.Builder
	b.WriteString("📊 <b>Weekly report</b>\n")
	b.WriteString("📅 Last 7 days\n\n")
	fmt.Fprintf(&b, "⏱️ Total runtime: %.2f h\n", runtime)
	fmt.Fprintf(&b, "⛽ Total fuel: %.2f l\n", fuel)
	fmt.Fprintf(&b, "💰 Total cost: %.2f %s\n", cost, s.currencyLabel())
	fmt.Fprintf(&b, "🔄 Total starts: %d\n\n", count)
	b.WriteString("By day:")
	for i := len(week) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "\n%s: %.1fh, %.1fl", week[i].Date, week[i].TotalRuntimeHours, week[i].TotalFuelLiters)
	}
	return b.String()
}

// FormatMonth renders a month summary.
func (s *Service) FormatMonth(ms MonthlyStats) string {
	var b strings.Builder
	b.WriteString("📊 <b>Monthly report</b>\n")
	fmt.Fprintf(&b, "📅 Month: %s\n\n", ms.Month)
	fmt.Fprintf(&b, "⏱️ Total runtime: %.2f h\n", ms.TotalRuntimeHours)
	fmt.Fprintf(&b, "⛽ Total fuel: %.2f l\n", ms.TotalFuelLiters)
	fmt.Fprintf(&b, "💰 Total cost: %.2f %s\n", ms.TotalCost, s.currencyLabel())
	fmt.Fprintf(&b, "🔄 Total starts: %d\n", ms.SessionsCount)
	fmt.Fprintf(&b, "📈 Average per day: %.2f h", ms.AvgPerDay)
	return b.String()
}

func (s *Service) currencyLabel() string {
	return html.EscapeString(s.currency)
}
