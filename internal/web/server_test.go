package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tollform/tollform/internal/config"
	"github.com/tollform/tollform/internal/history"
	"github.com/tollform/tollform/internal/mail"
	"github.com/tollform/tollform/internal/template"
)

type fakeSender struct {
	result mail.Result
	sent   []mail.Message
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) mail.Result {
	f.sent = append(f.sent, msg)
	return f.result
}

func (f *fakeSender) Name() string { return "fake" }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 3000, Mode: "development"},
		Mail: config.MailConfig{
			Provider: "smtp",
			From:     "form@example.com",
			Operator: "operator@example.com",
		},
	}
}

func newTestServer(t *testing.T, sender mail.Sender, store *history.Store) *Server {
	t.Helper()
	engine, err := template.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	srv, err := NewServer(testConfig(), sender, engine, store, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/send-email", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return out
}

func TestHandleSendEmail(t *testing.T) {
	sender := &fakeSender{result: mail.Result{Success: true, MessageID: "msg-1"}}
	store := newTestStore(t)
	srv := newTestServer(t, sender, store)

	body := `{"name":"Jane Smith","email":"jane@example.com","tollType":"NY","nyTollAccount":"T123","plateNumber":"ABC1234"}`
	w := postJSON(t, srv.handleSendEmail, body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "submitted successfully") {
		t.Errorf("message = %q", resp["message"])
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	out := sender.sent[0]
	if out.To != "operator@example.com" {
		t.Errorf("To = %q, want operator address", out.To)
	}
	if out.FromName != "Toll Information Form" {
		t.Errorf("FromName = %q", out.FromName)
	}
	if !strings.Contains(out.Text, "Jane Smith") || !strings.Contains(out.HTML, "Jane Smith") {
		t.Error("operator notification missing submitter name")
	}

	recent, err := store.RecentSubmissions(10)
	if err != nil {
		t.Fatalf("RecentSubmissions() error = %v", err)
	}
	if len(recent) != 1 || recent[0].Status != history.StatusSent {
		t.Errorf("history = %+v, want one sent record", recent)
	}
}

func TestHandleSendEmailValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing name",
			body:    `{"email":"jane@example.com","tollType":"NY"}`,
			wantErr: "name and email",
		},
		{
			name:    "bad email",
			body:    `{"name":"Jane","email":"not-an-email","tollType":"NY"}`,
			wantErr: "invalid email",
		},
		{
			name:    "no toll type",
			body:    `{"name":"Jane","email":"jane@example.com"}`,
			wantErr: "select which tolls",
		},
		{
			name:    "NY missing account",
			body:    `{"name":"Jane","email":"jane@example.com","tollType":"NY","plateNumber":"ABC1234"}`,
			wantErr: "NY toll account",
		},
		{
			name:    "malformed json",
			body:    `{"name":`,
			wantErr: "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{result: mail.Result{Success: true}}
			srv := newTestServer(t, sender, nil)

			w := postJSON(t, srv.handleSendEmail, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
			}
			resp := decodeBody(t, w)
			if errMsg, _ := resp["error"].(string); !strings.Contains(errMsg, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", resp["error"], tt.wantErr)
			}
			if len(sender.sent) != 0 {
				t.Errorf("sent %d messages on invalid input, want 0", len(sender.sent))
			}
		})
	}
}

func TestHandleSendEmailDispatchFailure(t *testing.T) {
	// A provider failure after validation still returns 200; the failure is
	// recorded server-side instead of bounced to the visitor.
	sender := &fakeSender{result: mail.Result{Success: false, Error: context.DeadlineExceeded}}
	store := newTestStore(t)
	srv := newTestServer(t, sender, store)

	body := `{"name":"Jane Smith","email":"jane@example.com","tollType":"NJ","njViolationNumber":"V987","plateNumber":"ABC1234"}`
	w := postJSON(t, srv.handleSendEmail, body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on dispatch failure", w.Code)
	}

	recent, err := store.RecentSubmissions(10)
	if err != nil {
		t.Fatalf("RecentSubmissions() error = %v", err)
	}
	if len(recent) != 1 || recent[0].Status != history.StatusFailed {
		t.Errorf("history = %+v, want one failed record", recent)
	}
	if recent[0].Error == "" {
		t.Error("failed record missing error text")
	}
}

func TestHandleCheckEmailsWithoutMonitor(t *testing.T) {
	srv := newTestServer(t, &fakeSender{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/check-emails", nil)
	w := httptest.NewRecorder()
	srv.handleCheckEmails(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when monitoring is disabled", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["error"] == "" {
		t.Error("missing error message")
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, &fakeSender{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["status"] != "ok" || resp["provider"] != "fake" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHandleAPIHistory(t *testing.T) {
	store := newTestStore(t)
	store.AddSubmission(&history.Submission{Name: "Jane", Email: "jane@example.com", Status: history.StatusSent})
	store.AddInbound(&history.InboundMessage{UID: 1, FromAddr: "a@b.co", Relevant: true, ConfirmationSent: true})

	srv := newTestServer(t, &fakeSender{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	srv.handleAPIHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Submissions []map[string]interface{} `json:"submissions"`
		Inbound     []map[string]interface{} `json:"inbound"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Submissions) != 1 || len(resp.Inbound) != 1 {
		t.Errorf("history payload = %+v", resp)
	}
}

func TestHandleAPIHistoryWithoutStore(t *testing.T) {
	srv := newTestServer(t, &fakeSender{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	srv.handleAPIHistory(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without a store", w.Code)
	}
}

func TestIndexPageEmbedsCSRFToken(t *testing.T) {
	srv := newTestServer(t, &fakeSender{}, nil)
	router := srv.setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `name="csrf-token"`) {
		t.Error("index page missing csrf-token meta tag")
	}
	if !strings.Contains(body, "tollForm") {
		t.Error("index page missing form markup")
	}
}

func TestPostWithoutCSRFTokenRejected(t *testing.T) {
	srv := newTestServer(t, &fakeSender{}, nil)
	router := srv.setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/send-email",
		strings.NewReader(`{"name":"Jane","email":"jane@example.com","tollType":"NY","nyTollAccount":"T1","plateNumber":"A1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 without CSRF token", w.Code)
	}
}
