package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediinterpret/internal/chat"
	"mediinterpret/internal/domain"
)

func newTestWebhook(t *testing.T, p domain.Provider, secret string) *Webhook {
	t.Helper()
	m, err := chat.NewManager(chat.Config{Provider: p, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return NewWebhook(WebhookConfig{Secret: secret, Chat: m, Logger: testLogger()})
}

func postWebhook(t *testing.T, w *Webhook, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set(webhookSignatureHeader, signature)
	}
	rr := httptest.NewRecorder()
	w.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeWebhook(t *testing.T, rr *httptest.ResponseRecorder) WebhookResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp WebhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

// --- Signatures ---

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"message":"hello"}`)
	sig := SignWebhookBody(body, "test-secret")
	if !strings.HasPrefix(sig, "sha256=") || len(sig) != len("sha256=")+64 {
		t.Fatalf("unexpected signature format %q", sig)
	}
	if !verifyHMAC(body, "test-secret", sig) {
		t.Error("valid HMAC should verify")
	}
	if verifyHMAC(body, "other-secret", sig) {
		t.Error("signature from another secret should not verify")
	}
	if verifyHMAC(body, "test-secret", "sha256=invalid") {
		t.Error("invalid HMAC should not verify")
	}
	if verifyHMAC(body, "test-secret", "") {
		t.Error("empty signature should not verify")
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	w := newTestWebhook(t, &streamProvider{}, "my-secret")
	if rr := postWebhook(t, w, `{"message":"hello"}`, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	w := newTestWebhook(t, &streamProvider{}, "my-secret")
	if rr := postWebhook(t, w, `{"message":"hello"}`, "sha256=invalid"); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

// --- Requests ---

func TestWebhook_MethodNotAllowed(t *testing.T) {
	w := newTestWebhook(t, &streamProvider{}, "")
	rr := httptest.NewRecorder()
	w.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebhook_BadRequests(t *testing.T) {
	w := newTestWebhook(t, &streamProvider{}, "")
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "not json", http.StatusBadRequest},
		{"empty message", `{"message":"  "}`, http.StatusBadRequest},
		{"unknown type", `{"message":"hi","type":"dentistry"}`, http.StatusBadRequest},
		{"bad data url", `{"message":"hi","attachment":"data:text/plain;base64,aGk="}`, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		if rr := postWebhook(t, w, tt.body, ""); rr.Code != tt.want {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.want, rr.Code, rr.Body.String())
		}
	}
}

func TestWebhook_SignedAnswer(t *testing.T) {
	p := &streamProvider{chunks: []string{"## Summary\n", "All **normal**."}}
	w := newTestWebhook(t, p, "my-secret")
	body := `{"conversationId":"portal-7","type":"imaging","message":"Is my scan fine?"}`

	resp := decodeWebhook(t, postWebhook(t, w, body, SignWebhookBody([]byte(body), "my-secret")))
	if resp.Answer != "## Summary\nAll **normal**." {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}
	if !strings.Contains(resp.HTML, `<h2 class="md-h2">Summary</h2>`) {
		t.Fatalf("unexpected html %q", resp.HTML)
	}
	if resp.IsError || resp.ConversationID != "portal-7" || resp.ConsultationID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.HasPrefix(p.lastRequest().System, "You are an expert Radiologist") {
		t.Fatal("imaging consultation should use the radiologist instruction")
	}
}

func TestWebhook_ConversationContinues(t *testing.T) {
	p := &streamProvider{chunks: []string{"ok"}}
	w := newTestWebhook(t, p, "")

	first := decodeWebhook(t, postWebhook(t, w, `{"conversationId":"c1","message":"first"}`, ""))
	second := decodeWebhook(t, postWebhook(t, w, `{"conversationId":"c1","message":"second"}`, ""))
	if first.ConsultationID != second.ConsultationID {
		t.Fatalf("same conversation should reuse the consultation: %s vs %s", first.ConsultationID, second.ConsultationID)
	}
	if got := len(p.lastRequest().Contents); got < 3 {
		t.Fatalf("follow-up should carry history, got %d contents", got)
	}

	other := decodeWebhook(t, postWebhook(t, w, `{"message":"no conversation"}`, ""))
	if other.ConsultationID == first.ConsultationID {
		t.Fatal("requests without a conversation id should start a new consultation")
	}
}

func TestWebhook_Attachment(t *testing.T) {
	p := &streamProvider{chunks: []string{"Seen."}}
	w := newTestWebhook(t, p, "")
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	body, _ := json.Marshal(WebhookRequest{Message: "read this", Attachment: dataURL, AttachmentName: "scan.png"})

	decodeWebhook(t, postWebhook(t, w, string(body), ""))
	contents := p.lastRequest().Contents
	atts := contents[len(contents)-1].Attachments()
	if len(atts) != 1 || atts[0].MimeType != "image/png" || atts[0].Name != "scan.png" {
		t.Fatalf("attachment not forwarded: %+v", atts)
	}
}

func TestWebhook_ProviderFailure(t *testing.T) {
	w := newTestWebhook(t, &streamProvider{err: errors.New("upstream unavailable")}, "")
	resp := decodeWebhook(t, postWebhook(t, w, `{"message":"hi"}`, ""))
	if !resp.IsError || resp.Answer != chat.ErrorReply {
		t.Fatalf("expected error reply, got %+v", resp)
	}
}

func TestWebhook_DeletedConsultationStartsOver(t *testing.T) {
	w := newTestWebhook(t, &streamProvider{chunks: []string{"ok"}}, "")
	first := decodeWebhook(t, postWebhook(t, w, `{"conversationId":"c9","message":"first"}`, ""))
	if err := w.chat.Delete(context.Background(), first.ConsultationID); err != nil {
		t.Fatal(err)
	}
	second := decodeWebhook(t, postWebhook(t, w, `{"conversationId":"c9","message":"again"}`, ""))
	if second.ConsultationID == first.ConsultationID {
		t.Fatal("a deleted consultation should be replaced")
	}
}

// --- Server ---

func TestWebhook_StartFailsOnTakenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	w := NewWebhook(WebhookConfig{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, Logger: testLogger()})
	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "webhook listen") {
			t.Fatalf("expected listen error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start should fail at once when the port is taken")
	}
}
