package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/techbire/techbire-ai/internal/chat"
	"github.com/techbire/techbire-ai/internal/config"
	"github.com/techbire/techbire-ai/internal/middleware"
	"github.com/techbire/techbire-ai/internal/observability"
	"github.com/techbire/techbire-ai/internal/protocol"
	"github.com/techbire/techbire-ai/internal/render"
	"github.com/techbire/techbire-ai/internal/session"
	"github.com/techbire/techbire-ai/internal/transcript"
)

// Chat runs request/response cycles against a session's conversation.
type Chat interface {
	Submit(ctx context.Context, conv *session.Conversation, input string, outbound chan<- any) (chat.Result, error)
	RunConnection(ctx context.Context, conv *session.Conversation, inbound <-chan any, outbound chan<- any) error
	Render(ctx context.Context, tr *transcript.Transcript, live bool) ([]render.TurnView, error)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	chat     Chat
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, sessions *session.Manager, controller Chat, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		chat:     controller,
		metrics:  metrics,
		logger:   logger,
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser pages may drive a session unless
				// configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(s.logger))
	r.Use(middleware.Logging(s.logger))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Get("/v1/chat/session/{id}/transcript", s.handleTranscript)
	r.Post("/v1/chat/session/{id}/messages", s.handleSubmit)
	r.Get("/v1/chat/session/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"model_provider":   s.modelProvider(),
		"transcript_store": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, code := "ready", http.StatusOK
	if s.chat == nil {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":          status,
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.ObserveSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(r.Context(), id)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.ObserveSessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

type transcriptResponse struct {
	SessionID string            `json:"session_id"`
	Turns     []transcript.Turn `json:"turns"`
	Rendered  []render.TurnView `json:"rendered"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.openConversation(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	turns, err := conv.Transcript().All(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	rendered, err := s.chat.Render(r.Context(), conv.Transcript(), false)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []transcript.Turn{}
	}
	respondJSON(w, http.StatusOK, transcriptResponse{
		SessionID: conv.SessionID(),
		Turns:     turns,
		Rendered:  rendered,
	})
}

type submitRequest struct {
	Text string `json:"text"`
}

// handleSubmit runs one cycle synchronously and returns the result with the
// rendered transcript.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conv, ok := s.openConversation(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	res, err := s.chat.Submit(r.Context(), conv, req.Text, nil)
	switch {
	case errors.Is(err, chat.ErrRateLimited):
		respondJSON(w, http.StatusTooManyRequests, res)
	case err != nil:
		s.logger.Error("submit failed", "session_id", conv.SessionID(), "request_id", middleware.GetRequestID(r), "error", err)
		respondError(w, http.StatusInternalServerError, "submit_failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

func (s *Server) openConversation(w http.ResponseWriter, id string) (*session.Conversation, bool) {
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, false
	}
	if s.chat == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat controller not configured")
		return nil, false
	}
	conv, err := s.sessions.Open(id)
	if err != nil {
		respondSessionError(w, err)
		return nil, false
	}
	return conv, true
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	conv, ok := s.openConversation(w, sessionID)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.chat.RunConnection(ctx, conv, inbound, outbound); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("connection ended with error", "session_id", sessionID, "error", err)
		}
	}()

	// Once the chat loop returns, the writer flushes, closes the socket and so
	// unblocks the read loop.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-runDone:
				s.flushOutbound(conn, outbound)
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection finished"),
					time.Now().Add(time.Second),
				)
				return
			case msg := <-outbound:
				if err := s.writeFrame(conn, msg); err != nil {
					s.metrics.ObserveSessionEvent("ws_write_error")
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.sessions.InactivityTimeout()))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "queued")
			default:
				// Writes stay on the writer goroutine; drop when its queue is full.
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "drop_full")
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		// An ended session is reported by the chat loop.
		_ = s.sessions.Touch(sessionID)
		select {
		case <-ctx.Done():
			break readLoop
		case <-runDone:
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) writeFrame(conn *websocket.Conn, msg any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	if t, ok := messageTypeOf(msg); ok {
		s.metrics.ObserveWSMessage("outbound", string(t))
	}
	return nil
}

// flushOutbound writes whatever is already queued without waiting for more.
func (s *Server) flushOutbound(conn *websocket.Conn, outbound <-chan any) {
	for {
		select {
		case msg := <-outbound:
			if err := s.writeFrame(conn, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "session_error", err.Error())
	}
}

func (s *Server) modelProvider() string {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.ModelProvider))
	if provider == "" {
		return "gemini"
	}
	return provider
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientSubmit:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.TranscriptSnapshot:
		return m.Type, true
	case protocol.NoticeEvent:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
