package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/dvloznov/finance-analyst/internal/api/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxMessageLength = 4000

// Conversation runs agent turns. *agent.Runner implements it.
type Conversation interface {
	Stream(ctx context.Context, threadID, message string, emit agent.EmitFunc) (agent.State, error)
	History(ctx context.Context, threadID string) (agent.State, bool, error)
}

// ChatHandler serves the question-answering chat.
type ChatHandler struct {
	conv Conversation
	log  zerolog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(conv Conversation, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		conv: conv,
		log:  log,
	}
}

// chatEvent is one state snapshot as sent to the client.
type chatEvent struct {
	ThreadID    string                   `json:"thread_id"`
	Node        string                   `json:"node"`
	Status      string                   `json:"status"`
	SQL         string                   `json:"sql,omitempty"`
	Retries     int                      `json:"retries"`
	ResultCount int                      `json:"result_count"`
	Truncated   bool                     `json:"truncated,omitempty"`
	Columns     []string                 `json:"columns,omitempty"`
	Rows        []map[string]interface{} `json:"rows,omitempty"`
	Answer      string                   `json:"answer,omitempty"`
}

// newChatEvent projects s. Rows are only sent with the final snapshot.
func newChatEvent(s agent.State, final bool) chatEvent {
	ev := chatEvent{
		ThreadID:    s.ThreadID,
		Node:        s.Node,
		Status:      s.Status,
		SQL:         s.CheckedSQL,
		Retries:     s.Retries,
		ResultCount: s.ResultCount,
		Truncated:   s.Truncated,
	}
	if ev.SQL == "" {
		ev.SQL = s.SQL
	}
	if final {
		ev.Columns = s.ResultColumns
		ev.Rows = s.ResultData
		ev.Answer = s.Answer
	}
	return ev
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

func decodeChatRequest(r *http.Request) (chatRequest, error) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return req, errors.New("message is required")
	}
	if len(req.Message) > maxMessageLength {
		return req, fmt.Errorf("message is longer than %d bytes", maxMessageLength)
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}
	return req, nil
}

// wantsStream reports whether the client asked for Server-Sent Events.
func wantsStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") || r.URL.Query().Get("stream") == "true"
}

// Chat handles POST /api/chat. With Accept: text/event-stream every state
// snapshot is sent as a "state" event and the final one as "done";
// otherwise the final snapshot is returned as JSON.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if wantsStream(r) {
		h.stream(w, r, req)
		return
	}

	final, err := h.conv.Stream(r.Context(), req.ThreadID, req.Message, nil)
	if err != nil {
		h.log.Error().Err(err).Str("thread_id", req.ThreadID).Msg("Chat turn failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Chat turn failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, newChatEvent(final, true))
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, req chatRequest) {
	rc := http.NewResponseController(w)
	// Turns can outlast the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Debug().Err(err).Msg("Could not clear write deadline")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event string, payload interface{}) error {
		if err := writeEvent(w, event, payload); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	final, err := h.conv.Stream(r.Context(), req.ThreadID, req.Message, func(s agent.State) error {
		if s.Node == string(agent.End) {
			return nil
		}
		return send("state", newChatEvent(s, false))
	})
	if err != nil {
		h.log.Error().Err(err).Str("thread_id", req.ThreadID).Msg("Chat stream failed")
		_ = send("error", map[string]string{"error": "Chat turn failed", "thread_id": req.ThreadID})
		return
	}
	_ = send("done", newChatEvent(final, true))
}

// writeEvent writes one Server-Sent Event with a JSON data line.
func writeEvent(w http.ResponseWriter, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("writeEvent: encoding %s: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// History handles GET /api/chat/history?thread_id=...
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(r.URL.Query().Get("thread_id"))
	if threadID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "thread_id is required")
		return
	}

	st, ok, err := h.conv.History(r.Context(), threadID)
	if err != nil {
		h.log.Error().Err(err).Str("thread_id", threadID).Msg("Failed to load chat history")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load chat history")
		return
	}
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Thread not found")
		return
	}

	messages := st.Messages
	if messages == nil {
		messages = []agent.Message{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id": threadID,
		"messages":  messages,
		"count":     len(messages),
	})
}
