package telegram

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genwatch/internal/config"
)

const testToken = "123:abc"

// fakeAPI mimics the Bot API methods used by the package.
type fakeAPI struct {
	mu       sync.Mutex
	updates  []Update
	offsets  []int64
	messages []map[string]any
	captions []string
	photos   int
	fail     bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	if f.fail {
		_ = json.NewEncoder(w).Encode(APIResponse{OK: false, ErrorCode: 400, Description: "Bad Request: chat not found"})
		return
	}

	var result any = map[string]any{}
	switch strings.TrimPrefix(r.URL.Path, prefix) {
	case "getUpdates":
		var body struct {
			Offset int64 `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.offsets = append(f.offsets, body.Offset)
		var pending []Update
		for _, u := range f.updates {
			if u.UpdateID >= body.Offset {
				pending = append(pending, u)
			}
		}
		result = pending
	case "sendMessage":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.messages = append(f.messages, body)
	case "sendPhoto":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.captions = append(f.captions, r.FormValue("caption"))
		if _, _, err := r.FormFile("photo"); err == nil {
			f.photos++
		}
	default:
		http.NotFound(w, r)
		return
	}

	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(APIResponse{OK: true, Result: raw})
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages {
		out = append(out, m["text"].(string))
	}
	return out
}

func newTestBot(t *testing.T) (*Bot, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	bot, err := NewBot(Config{BotToken: testToken, ChatID: "42", Enabled: true, APIBase: srv.URL})
	require.NoError(t, err)
	return bot, api
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(Config{}))
	assert.ErrorIs(t, ValidateConfig(Config{Enabled: true, ChatID: "1"}), ErrNotConfigured)
	assert.ErrorIs(t, ValidateConfig(Config{Enabled: true, BotToken: config.PlaceholderBotToken, ChatID: "1"}), ErrNotConfigured)
	assert.ErrorIs(t, ValidateConfig(Config{Enabled: true, BotToken: "t", ChatID: config.PlaceholderChatID}), ErrNotConfigured)
	assert.NoError(t, ValidateConfig(Config{Enabled: true, BotToken: "t", ChatID: "1"}))
}

func TestDisabledBotSendsNothing(t *testing.T) {
	bot, err := NewBot(Config{})
	require.NoError(t, err)
	assert.False(t, bot.Enabled())
	assert.ErrorIs(t, bot.SendMessage(context.Background(), "hi"), ErrDisabled)
	assert.ErrorIs(t, bot.SendPhoto(context.Background(), []byte{1}, ""), ErrDisabled)
}

func TestSendMessage(t *testing.T) {
	bot, api := newTestBot(t)
	require.NoError(t, bot.SendMessage(context.Background(), "<b>hello</b>"))

	require.Len(t, api.messages, 1)
	assert.Equal(t, "42", api.messages[0]["chat_id"])
	assert.Equal(t, "<b>hello</b>", api.messages[0]["text"])
	assert.Equal(t, "HTML", api.messages[0]["parse_mode"])
}

func TestSendImageTruncatesCaption(t *testing.T) {
	bot, api := newTestBot(t)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	caption := strings.Repeat("я", maxCaptionLen+10)

	require.NoError(t, bot.SendImage(context.Background(), img, caption))
	assert.Equal(t, 1, api.photos)
	require.Len(t, api.captions, 1)
	assert.Equal(t, maxCaptionLen, utf8.RuneCountInString(api.captions[0]))
}

func TestAPIErrorIsReported(t *testing.T) {
	bot, api := newTestBot(t)
	api.fail = true
	err := bot.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTransportErrorsHideToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	bot, err := NewBot(Config{BotToken: "123456:SECRET-TOKEN", ChatID: "42", Enabled: true, APIBase: base})
	require.NoError(t, err)
	ctx := context.Background()

	err = bot.SendMessage(ctx, "hello")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")

	err = bot.SendPhoto(ctx, []byte{0xff, 0xd8}, "caption")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}
