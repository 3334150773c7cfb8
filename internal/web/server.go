package web

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/json"
	"fmt"
	htmlTemplate "html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/tollform/tollform/internal/config"
	"github.com/tollform/tollform/internal/form"
	"github.com/tollform/tollform/internal/history"
	"github.com/tollform/tollform/internal/inbox"
	"github.com/tollform/tollform/internal/mail"
	"github.com/tollform/tollform/internal/template"
)

//go:embed static/*
var staticFS embed.FS

//go:embed templates/*
var templatesFS embed.FS

// operatorSendTimeout bounds the synchronous forward to the operator; the
// HTTP response waits on it.
const operatorSendTimeout = 20 * time.Second

const formSenderName = "Toll Information Form"

type Server struct {
	config       *config.Config
	sender       mail.Sender
	tmplEngine   *template.Engine
	historyStore *history.Store
	monitor      *inbox.Monitor
	httpServer   *http.Server
	port         int
	csrfKey      []byte
	indexTmpl    *htmlTemplate.Template
}

// NewServer wires the HTTP surface. monitor may be nil when inbox
// monitoring is disabled; the manual check endpoint then reports
// unavailable.
func NewServer(cfg *config.Config, sender mail.Sender, tmplEngine *template.Engine, historyStore *history.Store, monitor *inbox.Monitor) (*Server, error) {
	csrfKey := make([]byte, 32)
	if _, err := rand.Read(csrfKey); err != nil {
		return nil, fmt.Errorf("failed to generate CSRF key: %w", err)
	}

	indexContent, err := templatesFS.ReadFile("templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to read index template: %w", err)
	}
	indexTmpl, err := htmlTemplate.New("index.html").Parse(string(indexContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}

	return &Server{
		config:       cfg,
		sender:       sender,
		tmplEngine:   tmplEngine,
		historyStore: historyStore,
		monitor:      monitor,
		port:         cfg.Server.Port,
		csrfKey:      csrfKey,
		indexTmpl:    indexTmpl,
	}, nil
}

// Start runs the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	router := s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Server running on http://localhost:%d", s.port)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)

	csrfMiddleware := csrf.Protect(
		s.csrfKey,
		csrf.Secure(false), // Allow HTTP for localhost
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.RequestHeader("X-CSRF-Token"), // For fetch() submissions
		csrf.TrustedOrigins([]string{"localhost", "127.0.0.1", fmt.Sprintf("localhost:%d", s.port), fmt.Sprintf("127.0.0.1:%d", s.port)}),
	)
	r.Use(csrfMiddleware)

	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	r.Get("/", s.handleIndex)
	r.Get("/check-emails", s.handleCheckEmails)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send-email", s.handleSendEmail)
		r.Get("/health", s.handleHealth)
		r.Get("/history", s.handleAPIHistory)
	})

	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		csp := "default-src 'self'; " +
			"script-src 'self'; " +
			"style-src 'self'; " +
			"img-src 'self' data:; " +
			"connect-src 'self'; " +
			"frame-ancestors 'none'; " +
			"form-action 'self'; " +
			"base-uri 'self'"
		w.Header().Set("Content-Security-Policy", csp)

		if !strings.HasPrefix(r.URL.Path, "/static/") {
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"CSRFToken": csrf.Token(r),
	}
	if err := s.indexTmpl.Execute(w, data); err != nil {
		log.Printf("Error rendering index page: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleSendEmail validates a form submission and forwards it to the
// operator address synchronously. Validation failures come back as 400 with
// the first offending field's message; a dispatch failure after validation
// still returns 200 so the visitor is not asked to resubmit, with the
// failure recorded server-side.
func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var sub form.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sub.Normalize()
	if err := sub.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	rendered, err := s.tmplEngine.RenderOperator(sub)
	if err != nil {
		log.Printf("Error rendering operator notification: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to send email. Please try again later.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), operatorSendTimeout)
	defer cancel()

	result := s.sender.Send(ctx, mail.Message{
		To:       s.config.Mail.Operator,
		FromName: formSenderName,
		Subject:  rendered.Subject,
		Text:     rendered.Text,
		HTML:     rendered.HTML,
	})

	record := &history.Submission{
		Name:        sub.Name,
		Email:       sub.Email,
		TollType:    sub.Type().String(),
		NYAccount:   sub.NYTollAccount,
		NJViolation: sub.NJViolationNumber,
		Plate:       sub.PlateNumber,
	}
	if result.Success {
		record.Status = history.StatusSent
		record.MessageID = result.MessageID
		log.Printf("Submission from %s <%s> forwarded to operator via %s", sub.Name, sub.Email, s.sender.Name())
	} else {
		record.Status = history.StatusFailed
		if result.Error != nil {
			record.Error = result.Error.Error()
		}
		log.Printf("Error forwarding submission from %s <%s>: %v", sub.Name, sub.Email, result.Error)
	}
	if s.historyStore != nil {
		if err := s.historyStore.AddSubmission(record); err != nil {
			log.Printf("Error recording submission: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Your information has been submitted successfully! Thank you.",
	})
}

// handleCheckEmails triggers a poll cycle without waiting for it.
func (s *Server) handleCheckEmails(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "Email monitoring is not enabled")
		return
	}

	go func() {
		if err := s.monitor.CheckNow(context.Background()); err != nil {
			log.Printf("Manual email check failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":   true,
		"message":   "Email check triggered",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":   "ok",
		"provider": s.sender.Name(),
	}
	if s.monitor != nil {
		payload["monitor"] = string(s.monitor.State())
		payload["last_checked"] = s.monitor.LastChecked().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	if s.historyStore == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "History is not available")
		return
	}

	submissions, err := s.historyStore.RecentSubmissions(50)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	inboundMsgs, err := s.historyStore.RecentInbound(50)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type submissionItem struct {
		Name      string    `json:"name"`
		Email     string    `json:"email"`
		TollType  string    `json:"tollType"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"createdAt"`
	}
	type inboundItem struct {
		From             string    `json:"from"`
		Subject          string    `json:"subject"`
		Relevant         bool      `json:"relevant"`
		ConfirmationSent bool      `json:"confirmationSent"`
		SkipReason       string    `json:"skipReason,omitempty"`
		ProcessedAt      time.Time `json:"processedAt"`
	}

	subItems := make([]submissionItem, 0, len(submissions))
	for _, sub := range submissions {
		subItems = append(subItems, submissionItem{
			Name:      sub.Name,
			Email:     sub.Email,
			TollType:  sub.TollType,
			Status:    string(sub.Status),
			CreatedAt: sub.CreatedAt,
		})
	}
	inItems := make([]inboundItem, 0, len(inboundMsgs))
	for _, msg := range inboundMsgs {
		inItems = append(inItems, inboundItem{
			From:             msg.FromAddr,
			Subject:          msg.Subject,
			Relevant:         msg.Relevant,
			ConfirmationSent: msg.ConfirmationSent,
			SkipReason:       msg.SkipReason,
			ProcessedAt:      msg.ProcessedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": subItems,
		"inbound":     inItems,
	})
}
