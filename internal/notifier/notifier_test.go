package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, _ Level, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("down")}

	err := Multi{ok, nil, bad}.Notify(context.Background(), Critical, "EMERGENCY", "trend break")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, []string{"EMERGENCY"}, ok.titles)
	assert.Equal(t, []string{"EMERGENCY"}, bad.titles)

	assert.NoError(t, Multi{ok}.Notify(context.Background(), Info, "x", "y"))
}

func TestLogNotifierLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), Critical, "EMERGENCY", "flattened"))
	require.NoError(t, n.Notify(context.Background(), Warning, "Funding", "adverse"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "EMERGENCY", entries[0].ContextMap()["title"])
}

func TestTelegramSendMessage(t *testing.T) {
	var mu sync.Mutex
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL+"/", "TOKEN", "42", Warning)
	require.NotNil(t, tg)

	require.NoError(t, tg.Notify(context.Background(), Info, "ignored", "below min level"))
	mu.Lock()
	assert.Nil(t, got)
	mu.Unlock()

	require.NoError(t, tg.Notify(context.Background(), Critical, "EMERGENCY", "trend break"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Contains(t, got["text"], "*EMERGENCY*")
	assert.Contains(t, got["text"], "trend break")
}

func TestTelegramReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegram(srv.URL, "TOKEN", "1", Info).Notify(context.Background(), Info, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNewTelegramNeedsCredentials(t *testing.T) {
	assert.Nil(t, NewTelegram("https://api.telegram.org", "", "1", Info))
	assert.Nil(t, NewTelegram("https://api.telegram.org", "t", "", Info))
}
