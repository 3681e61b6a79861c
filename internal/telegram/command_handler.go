package telegram

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"genwatch/internal/clock"
	"genwatch/internal/ledger"
	"genwatch/internal/logging"
	"genwatch/internal/monitor"
	"genwatch/internal/stats"
)

const (
	pollInterval        = 2 * time.Second
	defaultSessionsList = 5
	maxSessionsList     = 20
)

// Update is one entry returned by getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is the subset of a Telegram message the handler reads.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Chat identifies where a message came from.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// StatusSource exposes the live monitor state.
type StatusSource interface {
	Status() monitor.Status
	Snapshot() (image.Image, time.Time, error)
}

// Reporter renders statistics reports.
type Reporter interface {
	Report(ctx context.Context, period stats.Period) (string, error)
}

// History reads sessions and fuel settings.
type History interface {
	Sessions(ctx context.Context, limit int) ([]*ledger.Session, error)
	FuelConfig(ctx context.Context) (ledger.FuelConfig, error)
}

// CommandHandler polls getUpdates and answers commands from the configured chat.
type CommandHandler struct {
	bot      *Bot
	monitor  StatusSource
	reports  Reporter
	history  History
	clock    clock.Clock
	currency string
	logger   *slog.Logger

	mu           sync.Mutex
	lastUpdateID int64
}

// NewCommandHandler creates a CommandHandler. A nil clock means the real clock in UTC.
func NewCommandHandler(bot *Bot, mon StatusSource, reports Reporter, history History, clk clock.Clock, currency string) *CommandHandler {
	if clk == nil {
		clk = clock.New(time.UTC)
	}
	return &CommandHandler{
		bot:      bot,
		monitor:  mon,
		reports:  reports,
		history:  history,
		clock:    clk,
		currency: currency,
		logger:   logging.Component(bot.logger, "telegram-commands"),
	}
}

// StartPolling polls for updates until ctx is cancelled.
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if !ch.bot.Enabled() {
		return ErrDisabled
	}
	ch.logger.Info("command polling started")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ch.logger.Info("command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil && ctx.Err() == nil {
				ch.logger.Warn("failed to poll updates", "error", err)
			}
		}
	}
}

func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	var updates []Update
	payload := map[string]any{"offset": offset, "timeout": 1}
	if err := ch.bot.call(ctx, "getUpdates", payload, &updates); err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}

	for _, u := range updates {
		ch.mu.Lock()
		if u.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = u.UpdateID
		}
		ch.mu.Unlock()

		if u.Message != nil {
			ch.handleMessage(ctx, u.Message)
		}
	}
	return nil
}

func (ch *CommandHandler) handleMessage(ctx context.Context, msg *Message) {
	if msg.Chat == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != ch.bot.ChatID() {
		ch.logger.Warn("ignoring message from unauthorized chat", "chat_id", chatID)
		return
	}
	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}
	args := parts[1:]
	ch.logger.Info("processing command", "command", command)

	var reply string
	switch command {
	case "/start":
		reply = handleStart()
	case "/help":
		reply = handleHelp()
	case "/status":
		reply = ch.handleStatus()
	case "/today", "/yesterday", "/week", "/month":
		reply = ch.handleReport(ctx, stats.Period(strings.TrimPrefix(command, "/")))
	case "/sessions":
		reply = ch.handleSessions(ctx, args)
	case "/fuel":
		reply = ch.handleFuel(ctx)
	case "/snapshot":
		ch.handleSnapshot(ctx)
		return
	default:
		reply = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}

	if err := ch.bot.SendMessage(ctx, reply); err != nil {
		ch.logger.Error("failed to send reply", "command", command, "error", err)
	}
}

func handleStart() string {
	return "🤖 <b>Generator monitor</b>\n\n" +
		"I watch the generator indicator lamp and report when it turns on or off.\n\n" +
		"Use /help to see available commands."
}

func handleHelp() string {
	return "📋 <b>Available Commands</b>\n\n" +
		"/status - Current generator state\n" +
		"/snapshot - Latest annotated frame\n\n" +
		"<b>Statistics</b>\n" +
		"/today - Today's runtime and fuel\n" +
		"/yesterday - Yesterday's totals\n" +
		"/week - Last 7 days\n" +
		"/month - Current month\n" +
		"/sessions [n] - Recent sessions\n" +
		"/fuel - Fuel settings\n\n" +
		"/help - Show this help"
}

func (ch *CommandHandler) handleStatus() string {
	st := ch.monitor.Status()

	stateIcon := "⚪"
	switch st.State {
	case monitor.StateOn:
		stateIcon = "🟢"
	case monitor.StateOff:
		stateIcon = "🔴"
	}
	camera := "connected"
	if !st.Connected {
		camera = "disconnected"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Status</b>\n\n%s Generator: <b>%s</b>\n📹 Camera %s: %s\n", stateIcon, st.State, st.Camera, camera)
	if st.ActiveSessionID != 0 {
		fmt.Fprintf(&b, "🔢 Active session: #%d\n", st.ActiveSessionID)
	}
	if !st.LastFrameAt.IsZero() {
		fmt.Fprintf(&b, "🔆 Bright pixels: %d (%s)\n", st.LastConfidence, st.LastFrameAt.Format("15:04:05"))
	}
	if st.ConsecutiveFaults > 0 {
		fmt.Fprintf(&b, "⚠️ Detector faults: %d\n", st.ConsecutiveFaults)
	}
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "⏱️ Uptime: %s\n", formatDuration(ch.clock.Now().Sub(st.StartedAt)))
	}
	fmt.Fprintf(&b, "🔄 State changes: %d", st.StateChangeCount)
	return b.String()
}

func (ch *CommandHandler) handleReport(ctx context.Context, period stats.Period) string {
	text, err := ch.reports.Report(ctx, period)
	if err != nil {
		ch.logger.Error("failed to build report", "period", period, "error", err)
		return "❌ Failed to build report."
	}
	return text
}

func (ch *CommandHandler) handleSessions(ctx context.Context, args []string) string {
	limit := defaultSessionsList
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return "Usage: /sessions [n]"
		}
		limit = min(n, maxSessionsList)
	}

	sessions, err := ch.history.Sessions(ctx, limit)
	if err != nil {
		ch.logger.Error("failed to list sessions", "error", err)
		return "❌ Failed to load sessions."
	}
	if len(sessions) == 0 {
		return "📋 <b>Sessions</b>\n\nNo sessions recorded yet."
	}

	var b strings.Builder
	b.WriteString("📋 <b>Recent sessions</b>\n")
	for _, s := range sessions {
		start := s.StartTime.Format("02.01 15:04")
		if s.IsOpen() {
			fmt.Fprintf(&b, "\n🟢 #%d %s, running", s.ID, start)
			continue
		}
		fmt.Fprintf(&b, "\n⚪ #%d %s-%s, %s, %.2f l",
			s.ID, start, s.EndTime.Format("15:04"), formatDuration(time.Duration(s.Hours()*float64(time.Hour))), s.Fuel())
	}
	return b.String()
}

func (ch *CommandHandler) handleFuel(ctx context.Context) string {
	cfg, err := ch.history.FuelConfig(ctx)
	if err != nil {
		ch.logger.Error("failed to load fuel config", "error", err)
		return "❌ Failed to load fuel settings."
	}
	text := fmt.Sprintf("⛽ <b>Fuel settings</b>\n\nConsumption: %.2f l/h\nTank: %.1f l\nPrice: %.2f %s/l",
		cfg.RatePerHour, cfg.TankCapacity, cfg.PricePerLiter, ch.currency)
	if cfg.RatePerHour > 0 {
		text += "\nFull tank lasts: " + formatDuration(time.Duration(cfg.TankCapacity/cfg.RatePerHour*float64(time.Hour)))
	}
	return text
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context) {
	img, at, err := ch.monitor.Snapshot()
	if err != nil {
		reply := "❌ Failed to capture snapshot."
		if errors.Is(err, monitor.ErrNoFrame) {
			reply = "📷 No frame captured yet."
		}
		if err := ch.bot.SendMessage(ctx, reply); err != nil {
			ch.logger.Error("failed to send reply", "error", err)
		}
		return
	}

	st := ch.monitor.Status()
	caption := fmt.Sprintf("📷 <b>%s</b> %s\n%s", st.Camera, st.State, at.Format("02.01.2006 15:04:05"))
	if err := ch.bot.SendImage(ctx, img, caption); err != nil {
		ch.logger.Error("failed to send snapshot", "error", err)
	}
}

// formatDuration renders d as "1d 2h 3m", dropping leading zero units.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
