package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"selfquiz/internal/app"
	"selfquiz/internal/domain"
)

type WSHandler struct {
	ctrl     *app.Controller
	upgrader websocket.Upgrader
	origins  []string

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

type WSOption func(*WSHandler)

// WithAllowedOrigins restricts browser upgrades to the given origins. An
// empty list or "*" allows any origin.
func WithAllowedOrigins(origins []string) WSOption {
	return func(h *WSHandler) { h.origins = origins }
}

func NewWSHandler(ctrl *app.Controller, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		ctrl:  ctrl,
		conns: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 || slices.Contains(h.origins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.ContainsFunc(h.origins, func(o string) bool { return strings.EqualFold(o, origin) })
}

// Close disconnects every live session connection and refuses new ones.
// Hijacked connections are not closed by http.Server.Shutdown.
func (h *WSHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.conns {
		_ = conn.Close()
	}
	clear(h.conns)
}

func (h *WSHandler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *WSHandler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type loginPayload struct {
	Name string `json:"name"`
}

type topicPayload struct {
	Topic string `json:"topic"`
}

type answerPayload struct {
	ItemID   string `json:"itemId"`
	OptionID string `json:"optionId"`
}

type scorePayload struct {
	Score int `json:"score"`
}

type uploadPayload struct {
	Content string `json:"content"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// optionView and itemView hide which option is correct.
type optionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type itemView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []optionView `json:"options"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the session controller.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	if !h.track(conn) {
		return
	}
	defer h.untrack(conn)

	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: view}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		for _, reply := range h.handle(ctx, inbound) {
			send <- reply
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// handle applies one inbound message. State changes reach the client through
// the subscription; only errors and query results are returned here.
func (h *WSHandler) handle(ctx context.Context, inbound inboundMessage) []outboundMessage[any] {
	var err error
	switch inbound.Type {
	case "login":
		var p loginPayload
		if err = decode(inbound.Payload, &p); err == nil {
			_, err = h.ctrl.SubmitName(ctx, p.Name)
		}
	case "topic":
		var p topicPayload
		if err = decode(inbound.Payload, &p); err == nil {
			if _, err = h.ctrl.PickTopic(ctx, p.Topic); err == nil {
				return []outboundMessage[any]{h.itemsMessage()}
			}
		}
	case "settings":
		var p domain.QuizSettings
		if err = decode(inbound.Payload, &p); err == nil {
			_, err = h.ctrl.ApplySettings(ctx, p)
		}
	case "answer":
		var p answerPayload
		if err = decode(inbound.Payload, &p); err == nil {
			err = h.ctrl.SubmitAnswer(ctx, p.ItemID, p.OptionID)
		}
	case "finish":
		_, err = h.ctrl.Finish(ctx)
	case "score":
		var p scorePayload
		if err = decode(inbound.Payload, &p); err == nil {
			_, err = h.ctrl.SubmitScore(ctx, p.Score)
		}
	case "acknowledge":
		_, err = h.ctrl.Acknowledge(ctx)
	case "leave":
		_, err = h.ctrl.Leave(ctx)
	case "logout":
		_, err = h.ctrl.Logout(ctx)
	case "removeUser":
		var p loginPayload
		if err = decode(inbound.Payload, &p); err == nil {
			err = h.ctrl.RemoveUser(ctx, p.Name)
		}
	case "upload":
		var p uploadPayload
		if err = decode(inbound.Payload, &p); err == nil {
			err = h.ctrl.UploadContent(ctx, p.Content)
		}
	case "history":
		return []outboundMessage[any]{{Type: "history", Payload: h.ctrl.History()}}
	case "items":
		return []outboundMessage[any]{h.itemsMessage()}
	default:
		return []outboundMessage[any]{{Type: "error", Payload: errorPayload{Code: "unsupported", Message: "unsupported message type"}}}
	}
	if err != nil {
		return []outboundMessage[any]{errorMessage(err)}
	}
	return nil
}

func (h *WSHandler) itemsMessage() outboundMessage[any] {
	items := h.ctrl.Items()
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		options := make([]optionView, 0, len(item.Options))
		for _, opt := range item.Options {
			options = append(options, optionView{ID: opt.ID, Text: opt.Text})
		}
		views = append(views, itemView{ID: item.ID, Prompt: item.Prompt, Options: options})
	}
	return outboundMessage[any]{Type: "items", Payload: views}
}

var errBadPayload = errors.New("invalid payload")

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errBadPayload
	}
	return nil
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Code: errorCode(err), Message: errorText(err)}}
}

func errorCode(err error) string {
	var verr *domain.ValidationError
	var perr *domain.PersistenceError
	switch {
	case errors.As(err, &verr):
		return string(verr.Code)
	case errors.As(err, &perr):
		return "persistence"
	case errors.Is(err, errBadPayload):
		return "bad_request"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrInvalidSettings):
		return "invalid_settings"
	case errors.Is(err, domain.ErrScoreOutOfRange):
		return "score_out_of_range"
	case errors.Is(err, domain.ErrAnswersFrozen):
		return "answers_frozen"
	case errors.Is(err, domain.ErrTopicRequired):
		return "topic_required"
	case errors.Is(err, domain.ErrSessionClosed):
		return "shutting_down"
	case errors.Is(err, domain.ErrUserActive):
		return "user_active"
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrOptionNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// errorText keeps validation messages user-facing and hides storage details.
func errorText(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	var perr *domain.PersistenceError
	if errors.As(err, &perr) {
		return "could not save progress, please try again"
	}
	return err.Error()
}
