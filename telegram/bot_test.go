package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-process Bot API double. getUpdates hands out queued
// batches one per call and then idles; every exchange is recorded.
type fakeAPI struct {
	mu          sync.Mutex
	batches     [][]Update
	sent        []outgoingMessage
	answered    []string
	failSends   int
	failUpdates bool
	srv         *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/")
	switch method {
	case "getMe":
		writeResult(w, `{"id":1,"username":"bridge_bot"}`)
	case "setMyCommands":
		writeResult(w, `true`)
	case "sendMessage":
		var msg outgoingMessage
		json.NewDecoder(r.Body).Decode(&msg)
		f.mu.Lock()
		fail := f.failSends > 0
		if fail {
			f.failSends--
		} else {
			f.sent = append(f.sent, msg)
		}
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"ok":false,"description":"upstream unhappy"}`))
			return
		}
		writeResult(w, `true`)
	case "answerCallbackQuery":
		var body struct {
			ID string `json:"callback_query_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.answered = append(f.answered, body.ID)
		f.mu.Unlock()
		writeResult(w, `true`)
	case "getUpdates":
		f.mu.Lock()
		if f.failUpdates {
			f.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"ok":false,"description":"boom"}`))
			return
		}
		var batch []Update
		if len(f.batches) > 0 {
			batch = f.batches[0]
			f.batches = f.batches[1:]
		}
		f.mu.Unlock()
		if batch == nil {
			// Idle like a held long poll, without spinning the client.
			time.Sleep(10 * time.Millisecond)
			writeResult(w, `[]`)
			return
		}
		raw, _ := json.Marshal(batch)
		writeResult(w, string(raw))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"ok":false,"description":"unknown method"}`))
	}
}

func writeResult(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true,"result":` + result + `}`))
}

func (f *fakeAPI) queue(updates ...Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, updates)
}

func (f *fakeAPI) sentMessages() []outgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outgoingMessage(nil), f.sent...)
}

func (f *fakeAPI) sentContaining(substr string) bool {
	for _, msg := range f.sentMessages() {
		if strings.Contains(msg.Text, substr) {
			return true
		}
	}
	return false
}

type sentSMS struct {
	destination string
	text        string
}

func newTestBot(t *testing.T, api *fakeAPI, sendSMS SendSMS) *Bot {
	t.Helper()
	if sendSMS == nil {
		sendSMS = func(context.Context, string, string) error { return nil }
	}
	b, err := NewBot(Config{
		Token:       "test-token",
		ChatID:      "42",
		SendSMS:     sendSMS,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollTimeout: time.Second,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	b.client.baseURL = api.srv.URL + "/"
	return b
}

func startBot(t *testing.T, b *Bot) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	select {
	case <-b.Ready():
	case err := <-done:
		t.Fatalf("bot exited before becoming ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("bot not ready in time")
	}

	t.Cleanup(func() {
		require.NoError(t, b.Close())
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("bot did not stop after Close")
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func textUpdate(id int64, chatID int64, text string) Update {
	return Update{ID: id, Message: &IncomingText{Chat: Chat{ID: chatID}, Text: text}}
}

func TestBotAnnouncesItselfOnStartup(t *testing.T) {
	api := newFakeAPI(t)
	b := newTestBot(t, api, nil)
	startBot(t, b)

	waitFor(t, "welcome message", func() bool {
		return api.sentContaining("online")
	})
	msgs := api.sentMessages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "42", msgs[0].ChatID)
	assert.Equal(t, "HTML", msgs[0].ParseMode)
}

func TestBotGuidedSendFlow(t *testing.T) {
	var (
		mu   sync.Mutex
		sms  []sentSMS
		api  = newFakeAPI(t)
		send = func(_ context.Context, destination, text string) error {
			mu.Lock()
			defer mu.Unlock()
			sms = append(sms, sentSMS{destination, text})
			return nil
		}
	)
	api.queue(textUpdate(1, 42, "/sendsms"))
	api.queue(textUpdate(2, 42, "+15555521435"))
	api.queue(textUpdate(3, 42, "see you at 6"))

	b := newTestBot(t, api, send)
	startBot(t, b)

	waitFor(t, "SMS submission", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sms) == 1
	})
	mu.Lock()
	assert.Equal(t, sentSMS{"+15555521435", "see you at 6"}, sms[0])
	mu.Unlock()

	waitFor(t, "confirmation message", func() bool {
		return api.sentContaining(sentOKText)
	})
}

func TestBotRepromptsOnInvalidNumber(t *testing.T) {
	called := false
	api := newFakeAPI(t)
	api.queue(textUpdate(1, 42, "/sendsms"))
	api.queue(textUpdate(2, 42, "call me maybe"))

	b := newTestBot(t, api, func(context.Context, string, string) error {
		called = true
		return nil
	})
	startBot(t, b)

	waitFor(t, "reprompt", func() bool {
		return api.sentContaining("Invalid phone number")
	})
	assert.False(t, called)
}

func TestBotIgnoresUnauthorizedChat(t *testing.T) {
	api := newFakeAPI(t)
	api.queue(textUpdate(1, 99, "/sendsms"))
	api.queue(textUpdate(2, 42, "/help"))

	b := newTestBot(t, api, nil)
	startBot(t, b)

	waitFor(t, "help reply", func() bool {
		return api.sentContaining("Available commands")
	})
	// The unauthorized /sendsms must not have opened a flow.
	assert.False(t, api.sentContaining("destination phone number"))
}

func TestBotReplyCallbackOpensContentFlow(t *testing.T) {
	var (
		mu  sync.Mutex
		sms []sentSMS
	)
	api := newFakeAPI(t)
	api.queue(Update{ID: 1, CallbackQuery: &CallbackQuery{
		ID:      "q1",
		Message: &IncomingText{Chat: Chat{ID: 42}},
		Data:    "reply_+15555521435",
	}})
	api.queue(textUpdate(2, 42, "on my way"))

	b := newTestBot(t, api, func(_ context.Context, destination, text string) error {
		mu.Lock()
		defer mu.Unlock()
		sms = append(sms, sentSMS{destination, text})
		return nil
	})
	startBot(t, b)

	waitFor(t, "reply submission", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sms) == 1
	})
	mu.Lock()
	assert.Equal(t, sentSMS{"+15555521435", "on my way"}, sms[0])
	mu.Unlock()

	api.mu.Lock()
	answered := append([]string(nil), api.answered...)
	api.mu.Unlock()
	assert.Contains(t, answered, "q1")
}

func TestBotCancelCallbackAbortsFlow(t *testing.T) {
	called := false
	api := newFakeAPI(t)
	api.queue(textUpdate(1, 42, "/sendsms"))
	api.queue(Update{ID: 2, CallbackQuery: &CallbackQuery{
		ID:      "q2",
		Message: &IncomingText{Chat: Chat{ID: 42}},
		Data:    callbackCancel,
	}})
	api.queue(textUpdate(3, 42, "+15555521435"))

	b := newTestBot(t, api, func(context.Context, string, string) error {
		called = true
		return nil
	})
	startBot(t, b)

	waitFor(t, "cancel confirmation", func() bool {
		return api.sentContaining("cancelled")
	})
	// After the cancel the number lands in an idle conversation.
	waitFor(t, "idle hint", func() bool {
		return api.sentContaining("/sendsms to send")
	})
	assert.False(t, called)
}

func TestForwardEscapesHTML(t *testing.T) {
	api := newFakeAPI(t)
	b := newTestBot(t, api, nil)

	ok := b.Forward(context.Background(), "<spoof>", time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC), "a<b>c")
	require.True(t, ok)

	msgs := api.sentMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "&lt;spoof&gt;")
	assert.Contains(t, msgs[0].Text, "a&lt;b&gt;c")
	assert.NotContains(t, msgs[0].Text, "<spoof>")
	require.NotNil(t, msgs[0].ReplyMarkup)
	assert.False(t, msgs[0].DisableNotification)
}

func TestForwardRetriesTransientFailures(t *testing.T) {
	api := newFakeAPI(t)
	api.failSends = 2

	b := newTestBot(t, api, nil)
	ok := b.Forward(context.Background(), "+1555", time.Now(), "hello")
	require.True(t, ok)
	assert.Len(t, api.sentMessages(), 1)
}

func TestForwardGivesUpAfterRetryBudget(t *testing.T) {
	api := newFakeAPI(t)
	api.failSends = 10

	b := newTestBot(t, api, nil)
	ok := b.Forward(context.Background(), "+1555", time.Now(), "hello")
	assert.False(t, ok)
}

func TestBotStopsAfterPollingErrorBudget(t *testing.T) {
	api := newFakeAPI(t)
	api.failUpdates = true

	b := newTestBot(t, api, nil)
	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrPollingExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("bot did not give up")
	}
}

func TestNewBotValidation(t *testing.T) {
	send := func(context.Context, string, string) error { return nil }

	_, err := NewBot(Config{ChatID: "42", SendSMS: send})
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = NewBot(Config{Token: "t", SendSMS: send})
	assert.ErrorIs(t, err, ErrNoChatID)

	_, err = NewBot(Config{Token: "t", ChatID: "42"})
	assert.ErrorIs(t, err, ErrNoSendFunc)
}
