package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genwatch/internal/clock"
	"genwatch/internal/ledger"
)

// ErrUnknownPeriod is returned for report periods other than the four known ones.
var ErrUnknownPeriod = errors.New("unknown period")

// Period names a report window.
type Period string

const (
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	PeriodWeek      Period = "week"
	PeriodMonth     Period = "month"
)

// Periods lists the supported report windows.
var Periods = []Period{PeriodToday, PeriodYesterday, PeriodWeek, PeriodMonth}

// ParsePeriod validates s.
func ParsePeriod(s string) (Period, error) {
	for _, p := range Periods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// SessionSource is the read side of the ledger used by the aggregator.
type SessionSource interface {
	SessionsBetween(ctx context.Context, from, to time.Time) ([]*ledger.Session, error)
	FuelConfig(ctx context.Context) (ledger.FuelConfig, error)
}

// Service computes statistics against a SessionSource.
type Service struct {
	source   SessionSource
	clock    clock.Clock
	currency string
}

// Option customises a Service.
type Option func(*Service)

// WithCurrency sets the currency label used in reports.
func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

// New creates a statistics service.
func New(source SessionSource, clk clock.Clock, opts ...Option) *Service {
	s := &Service{source: source, clock: clk, currency: "UAH"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Currency returns the configured currency label.
func (s *Service) Currency() string {
	return s.currency
}

// Today returns statistics for the current calendar day.
func (s *Service) Today(ctx context.Context) (DailyStats, error) {
	return s.Day(ctx, s.clock.Now())
}

// Yesterday returns statistics for the previous calendar day.
func (s *Service) Yesterday(ctx context.Context) (DailyStats, error) {
	return s.Day(ctx, s.clock.Now().AddDate(0, 0, -1))
}

// Day returns statistics for date's calendar day in the clock's location.
func (s *Service) Day(ctx context.Context, date time.Time) (DailyStats, error) {
	start := clock.StartOfDay(date, s.clock.Location())
	sessions, price, err := s.load(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return DailyStats{}, err
	}
	return Daily(start, sessions, price), nil
}

// Week returns seven daily rollups ending today, newest first.
func (s *Service) Week(ctx context.Context) ([]DailyStats, error) {
	today := clock.StartOfDay(s.clock.Now(), s.clock.Location())
	sessions, price, err := s.load(ctx, today.AddDate(0, 0, -6), today.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	week := make([]DailyStats, 0, 7)
	for i := 0; i < 7; i++ {
		week = append(week, Daily(today.AddDate(0, 0, -i), sessions, price))
	}
	return week, nil
}

// Month returns statistics for year/month. Zero values select the current month.
func (s *Service) Month(ctx context.Context, year int, month time.Month) (MonthlyStats, error) {
	now := s.clock.Now()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = now.Month()
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, s.clock.Location())
	sessions, price, err := s.load(ctx, start, start.AddDate(0, 1, 0))
	if err != nil {
		return MonthlyStats{}, err
	}
	return Monthly(year, month, sessions, price), nil
}

func (s *Service) load(ctx context.Context, from, to time.Time) ([]*ledger.Session, float64, error) {
	sessions, err := s.source.SessionsBetween(ctx, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load sessions: %w", err)
	}
	cfg, err := s.source.FuelConfig(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load fuel config: %w", err)
	}
	return sessions, cfg.PricePerLiter, nil
}
