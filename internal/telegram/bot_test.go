package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/network-scout/internal/archive"
	"github.com/spigell/network-scout/internal/conversation"
	"github.com/spigell/network-scout/internal/domain"
	"github.com/spigell/network-scout/internal/platform"
)

const testToken = "123:abc"

type fakeAPI struct {
	mu      sync.Mutex
	offsets []string
	sent    []string
	updates string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
	_ = r.ParseForm()

	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok": true, "result": {"id": 1, "is_bot": true, "first_name": "Scout", "username": "scout_bot"}}`)
	case "getUpdates":
		f.offsets = append(f.offsets, r.PostForm.Get("offset"))
		fmt.Fprintf(w, `{"ok": true, "result": %s}`, f.updates)
	case "sendMessage":
		if r.PostForm.Get("chat_id") == "13" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"ok": false, "error_code": 403, "description": "Forbidden: bot was blocked by the user"}`)
			return
		}
		f.sent = append(f.sent, r.PostForm.Get("chat_id")+":"+r.PostForm.Get("text"))
		fmt.Fprint(w, `{"ok": true, "result": {"message_id": 99, "date": 0, "chat": {"id": 42, "type": "private"}}}`)
	default:
		http.NotFound(w, r)
	}
}

type recordingHandler struct {
	got []platform.Inbound
	err error
}

func (h *recordingHandler) HandleMessage(_ context.Context, in platform.Inbound) (*conversation.Outcome, error) {
	h.got = append(h.got, in)
	return &conversation.Outcome{}, h.err
}

func newTestBot(t *testing.T, api *fakeAPI) (*Bot, *archive.Memory) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	offsets := archive.NewMemory()
	bot, err := New(testToken, Config{Endpoint: srv.URL + "/bot%s/%s"}, offsets, srv.Client(), nil)
	require.NoError(t, err)
	return bot, offsets
}

const twoUpdates = `[
  {"update_id": 10, "message": {"message_id": 5, "date": 0, "text": "/start",
    "from": {"id": 42, "is_bot": false, "first_name": "Eve", "last_name": "Doe", "username": "eve"},
    "chat": {"id": 42, "type": "private"}}},
  {"update_id": 11, "message": {"message_id": 6, "date": 0, "text": "hello group",
    "from": {"id": 43, "is_bot": false, "first_name": "Bob"},
    "chat": {"id": -100, "type": "group"}}}
]`

func TestPollOnceHandlesUpdatesAndStoresOffset(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{updates: twoUpdates}
	bot, offsets := newTestBot(t, api)
	assert.Equal(t, "scout_bot", bot.Username())

	h := &recordingHandler{err: errors.New("model down")}
	require.NoError(t, bot.pollOnce(ctx, h))

	require.Len(t, h.got, 1)
	assert.Equal(t, platform.Inbound{
		Platform:    domain.PlatformTelegram,
		UserID:      "42",
		ChatID:      42,
		Handle:      "eve",
		DisplayName: "Eve Doe",
		MessageID:   "5",
		Text:        "/start",
	}, h.got[0])

	offset, err := offsets.Offset(ctx, offsetName)
	require.NoError(t, err)
	assert.Equal(t, "12", offset)

	api.mu.Lock()
	api.updates = `[]`
	api.mu.Unlock()
	require.NoError(t, bot.pollOnce(ctx, h))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"", "12"}, api.offsets)
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{updates: `[]`}
	bot, _ := newTestBot(t, api)

	require.NoError(t, bot.Send(ctx, &domain.Candidate{PlatformID: "telegram:42", ChatID: 42}, "hi there"))
	require.NoError(t, bot.Send(ctx, &domain.Candidate{PlatformID: "telegram:42"}, "no chat id"))
	assert.Equal(t, []string{"42:hi there", "42:no chat id"}, api.sent)

	err := bot.Send(ctx, &domain.Candidate{PlatformID: "telegram:13", ChatID: 13}, "hello?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrPermission))
}

func TestPollStopsOnCancel(t *testing.T) {
	api := &fakeAPI{updates: `[]`}
	bot, _ := newTestBot(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, bot.Poll(ctx, &recordingHandler{}))
}

func TestPollDelayGrowsWithFailures(t *testing.T) {
	bot, _ := newTestBot(t, &fakeAPI{})

	assert.Equal(t, defaultPollInterval, bot.nextDelay(0))
	assert.Equal(t, defaultErrorBackoff, bot.nextDelay(1))
	assert.Equal(t, 2*defaultErrorBackoff, bot.nextDelay(2))
	assert.Equal(t, defaultMaxBackoff, bot.nextDelay(20))
}
