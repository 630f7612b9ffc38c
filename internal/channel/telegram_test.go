package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mediinterpret/internal/consult"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
)

func TestTelegram_IsAllowed(t *testing.T) {
	open := NewTelegram(TelegramConfig{Token: "x", Logger: testLogger()})
	if !open.isAllowed(42) {
		t.Error("empty allow list should allow everyone")
	}

	tg := NewTelegram(TelegramConfig{Token: "x", AllowFrom: []string{"42", " 7 ", "bogus"}, Logger: testLogger()})
	if !tg.isAllowed(42) || !tg.isAllowed(7) {
		t.Error("listed users should be allowed")
	}
	if tg.isAllowed(8) {
		t.Error("unlisted user should be rejected")
	}
}

func TestTelegram_Sessions(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x", Logger: testLogger()})
	if tg.session(1) != "" {
		t.Fatal("no session expected")
	}
	tg.mu.Lock()
	tg.sessions[1] = "abc"
	tg.mu.Unlock()
	if tg.session(1) != "abc" {
		t.Fatal("session not found")
	}
}

func TestCategoryKeyboard_TwoPerRow(t *testing.T) {
	kb := categoryKeyboard(consult.Default())
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(kb.InlineKeyboard))
	}
	first := kb.InlineKeyboard[0][0]
	if first.Text != "Imaging & Radiology" {
		t.Errorf("unexpected label %q", first.Text)
	}
	if first.CallbackData == nil || *first.CallbackData != "cat:imaging" {
		t.Errorf("unexpected callback data %v", first.CallbackData)
	}
}

func TestParseCategoryCallback(t *testing.T) {
	tests := []struct {
		data string
		want domain.ConsultationType
		ok   bool
	}{
		{"cat:lab_test", domain.ConsultLabTest, true},
		{"cat:medication", domain.ConsultMedication, true},
		{"cat:surgery", "", false},
		{"lab_test", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseCategoryCallback(tt.data)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseCategoryCallback(%q) = %q, %v; want %q, %v", tt.data, got, ok, tt.want, tt.ok)
		}
	}
}

func TestChunkBlocks_SplitsOnBlockBoundaries(t *testing.T) {
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "* "+strings.Repeat("x", 40))
	}
	blocks := markdown.Parse(strings.Join(lines, "\n"))

	chunks := chunkBlocks(blocks, 200, markdown.RenderTelegram)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	total := 0
	for i, c := range chunks {
		total += len(c)
		if n := len(markdown.RenderTelegram(c)); n > 200 {
			t.Errorf("chunk %d renders to %d chars", i, n)
		}
	}
	if total != len(blocks) {
		t.Errorf("blocks lost: %d of %d", total, len(blocks))
	}
}

func TestChunkBlocks_Empty(t *testing.T) {
	if got := chunkBlocks(nil, 100, markdown.RenderTelegram); len(got) != 0 {
		t.Fatalf("expected no chunks, got %d", len(got))
	}
}

func TestEditThrottle(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newEditThrottle(time.Second, func() time.Time { return now })

	if !e.Allow() {
		t.Fatal("first edit should be allowed")
	}
	now = now.Add(500 * time.Millisecond)
	if e.Allow() {
		t.Fatal("edit within interval should be throttled")
	}
	now = now.Add(600 * time.Millisecond)
	if !e.Allow() {
		t.Fatal("edit after interval should be allowed")
	}
}

// --- Voice ---

type fakeTranscriber struct{ called bool }

func (f *fakeTranscriber) Transcribe(context.Context, io.Reader, string) (string, error) {
	f.called = true
	return "what is LDL", nil
}

func TestTranscribeVoice_Disabled(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x", Logger: testLogger()})
	_, err := tg.transcribeVoice(context.Background(), &tgbotapi.Voice{FileID: "f", Duration: 3})
	if !errors.Is(err, errVoiceDisabled) {
		t.Fatalf("expected errVoiceDisabled, got %v", err)
	}
}

func TestTranscribeVoice_TooLong(t *testing.T) {
	tr := &fakeTranscriber{}
	tg := NewTelegram(TelegramConfig{Token: "x", Transcriber: tr, Logger: testLogger()})
	_, err := tg.transcribeVoice(context.Background(), &tgbotapi.Voice{FileID: "f", Duration: telegramMaxVoiceSecs + 1})
	if err == nil || !strings.Contains(err.Error(), "longer than 5 minutes") {
		t.Fatalf("expected duration error, got %v", err)
	}
	if tr.called {
		t.Fatal("transcriber should not run for oversized voice notes")
	}
}

// --- Delivery ---

// fakeBotAPI answers getMe and hands every other method to reply. The
// form of each call is recorded.
func fakeBotAPI(t *testing.T, reply func(call int, method string) string) (*tgbotapi.BotAPI, func() []url.Values) {
	t.Helper()
	var mu sync.Mutex
	var calls []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := path.Base(r.URL.Path)
		if method == "getMe" {
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"username":"medibot"}}`)
			return
		}
		r.ParseForm()
		mu.Lock()
		calls = append(calls, r.PostForm)
		n := len(calls)
		mu.Unlock()
		fmt.Fprint(w, reply(n, method))
	}))
	t.Cleanup(srv.Close)

	bot, err := tgbotapi.NewBotAPIWithClient("tok", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	return bot, func() []url.Values {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(calls)
	}
}

const tgSent = `{"ok":true,"result":{"message_id":5,"chat":{"id":9}}}`

func TestDeliver_FallsBackToPlainText(t *testing.T) {
	bot, calls := fakeBotAPI(t, func(call int, _ string) string {
		if call == 1 {
			return `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unclosed tag"}`
		}
		return tgSent
	})
	tg := NewTelegram(TelegramConfig{Token: "tok", Logger: testLogger()})
	tg.bot = bot

	if err := tg.deliver(context.Background(), 9, 0, "<b>LDL", "LDL"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := calls()
	if len(got) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(got))
	}
	if got[0].Get("parse_mode") != "HTML" || got[1].Get("parse_mode") != "" {
		t.Fatalf("parse modes = %q, %q", got[0].Get("parse_mode"), got[1].Get("parse_mode"))
	}
	if got[1].Get("text") != "LDL" {
		t.Fatalf("fallback text = %q", got[1].Get("text"))
	}
}

func TestDeliver_UnchangedEditIsNotAnError(t *testing.T) {
	bot, calls := fakeBotAPI(t, func(int, string) string {
		return `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`
	})
	tg := NewTelegram(TelegramConfig{Token: "tok", Logger: testLogger()})
	tg.bot = bot

	if err := tg.deliver(context.Background(), 9, 5, "same", ""); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := calls(); len(got) != 1 || got[0].Get("message_id") != "5" {
		t.Fatalf("expected one edit of message 5, got %v", got)
	}
}

func TestDeliver_StopsOnCancel(t *testing.T) {
	bot, calls := fakeBotAPI(t, func(int, string) string {
		return `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 30","parameters":{"retry_after":30}}`
	})
	tg := NewTelegram(TelegramConfig{Token: "tok", Logger: testLogger()})
	tg.bot = bot

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := tg.deliver(ctx, 9, 0, "hi", ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if n := len(calls()); n != 1 {
		t.Fatalf("expected one attempt before the flood wait, got %d", n)
	}
}
