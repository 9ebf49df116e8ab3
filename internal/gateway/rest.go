package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/tbulle/remote-ai-ide/internal/protocol"
	"github.com/tbulle/remote-ai-ide/internal/session"
)

// Handler returns the full HTTP handler: the websocket endpoint, the
// health check, and the authenticated REST surface.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/ws", g.handleWebSocket)
	r.Get("/health", g.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(g.bearerAuth)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", g.handleListSessions)
			r.Post("/", g.handleCreateSession)
			r.Get("/{id}", g.handleGetSession)
			r.Delete("/{id}", g.handleDeleteSession)
		})

		r.Get("/projects", g.handleListProjects)
	})

	return r
}

// bearerAuth rejects requests without an accepted bearer token. Token
// validation is delegated; only the rejection behavior lives here.
func (g *Gateway) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "Missing or invalid Authorization header")
			return
		}
		if !g.cfg.ValidateToken(strings.TrimPrefix(header, "Bearer ")) {
			writeError(w, http.StatusForbidden, protocol.ErrUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"activeSessions": g.registry.Count(),
	})
}

type createSessionRequest struct {
	WorkDir string `json:"workingDirectory"`
}

func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrMalformedFrame, "invalid request body")
		return
	}
	if req.WorkDir == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrMalformedFrame, "workingDirectory is required")
		return
	}

	sess, err := g.registry.Create(req.WorkDir)
	if err != nil {
		if errors.Is(err, session.ErrCapacity) {
			writeError(w, http.StatusConflict, protocol.ErrCapacityExceeded, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, protocol.ErrMalformedFrame, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, session.Summarize(sess))
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.registry.List())
}

// sessionDetail is the history-read response consumed by the reconciler.
type sessionDetail struct {
	session.Summary
	Messages []session.Message `json:"messages"`
}

func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "Session not found")
		return
	}

	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, protocol.ErrMalformedFrame, "invalid 'since' parameter")
			return
		}
		since = n
	}

	messages := sess.MessagesSince(since)
	if messages == nil {
		messages = []session.Message{}
	}
	writeJSON(w, http.StatusOK, sessionDetail{Summary: session.Summarize(sess), Messages: messages})
}

func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	g.registry.Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if g.projects == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, g.projects.List())
}

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine code and human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
