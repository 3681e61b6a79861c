package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"genwatch/internal/ledger"
	"genwatch/internal/logging"
	"genwatch/internal/stats"
)

const timestampLayout = "02.01.2006 15:04:05"

// Composer renders the text of a state change notification.
type Composer interface {
	Compose(ctx context.Context, change StateChange) string
}

// PlainComposer renders the state line only.
type PlainComposer struct{}

func (PlainComposer) Compose(_ context.Context, change StateChange) string {
	return stateLine(change)
}

// DailyStats provides today's totals and the currency label.
type DailyStats interface {
	Today(ctx context.Context) (stats.DailyStats, error)
	Currency() string
}

// FuelSource provides the current fuel settings.
type FuelSource interface {
	FuelConfig(ctx context.Context) (ledger.FuelConfig, error)
}

// StatsComposer appends the closed session and today's totals to the state line.
type StatsComposer struct {
	Stats  DailyStats
	Fuel   FuelSource
	Logger *slog.Logger
}

func (c StatsComposer) Compose(ctx context.Context, change StateChange) string {
	logger := logging.Component(c.Logger, "composer")
	var b strings.Builder
	b.WriteString(stateLine(change))

	currency := ""
	if c.Stats != nil {
		currency = c.Stats.Currency()
	}

	if s := change.Session; change.To == StateOff && s != nil && s.Hours() > 0 && c.Fuel != nil {
		cfg, err := c.Fuel.FuelConfig(ctx)
		if err != nil {
			logger.Warn("failed to load fuel config", "error", err)
		} else {
			fmt.Fprintf(&b, "\n\n📊 <b>Last session:</b>\n⏱️ Runtime: %s\n⛽ Fuel: %.2f l\n💰 Cost: %.2f %s",
				FormatDuration(s.Hours()), s.Fuel(), s.Fuel()*cfg.PricePerLiter, currency)
		}
	}

	if c.Stats != nil {
		today, err := c.Stats.Today(ctx)
		switch {
		case err != nil:
			logger.Warn("failed to load today's stats", "error", err)
		case today.SessionsCount > 0:
			fmt.Fprintf(&b, "\n\n📅 <b>Today:</b>\n⏱️ Runtime: %.2f h\n⛽ Fuel: %.2f l\n💰 Cost: %.2f %s\n🔢 Sessions: %d",
				today.TotalRuntimeHours, today.TotalFuelLiters, today.TotalCost, currency, today.SessionsCount)
		}
	}
	return b.String()
}

func stateLine(change StateChange) string {
	emoji, word := "🔴", "OFF"
	if change.To == StateOn {
		emoji, word = "🟢", "ON"
	}
	return fmt.Sprintf("%s <b>Generator %s</b>\n🕐 %s\n🔆 Bright pixels: %d",
		emoji, word, change.At.Format(timestampLayout), change.Confidence)
}

func imageCaption(change StateChange) string {
	emoji, word := "🔴", "Generator OFF"
	if change.To == StateOn {
		emoji, word = "🟢", "Generator ON"
	}
	return fmt.Sprintf("%s <b>%s</b>\n%s", emoji, word, change.At.Format(timestampLayout))
}

func startupMessage(at time.Time, camera string, interval time.Duration, runID string) string {
	return fmt.Sprintf("🚀 <b>Generator monitor started</b>\n\n🕐 Started: %s\n📹 Camera: %s\n⏱️ Check interval: %s\n🆔 Run: <code>%s</code>",
		at.Format(timestampLayout), camera, interval, runID)
}

func shutdownMessage(at time.Time, uptimeHours float64, changes int) string {
	return fmt.Sprintf("🛑 <b>Generator monitor stopped</b>\n\n🕐 Stopped: %s\n⏱️ Uptime: %s\n🔄 State changes: %d",
		at.Format(timestampLayout), FormatDuration(uptimeHours), changes)
}

// FormatDuration renders hours as "2h 15m", or "45m" under an hour.
func FormatDuration(hours float64) string {
	if hours < 0 {
		hours = 0
	}
	total := int(hours*60 + 0.5)
	h, m := total/60, total%60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
