package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"testpass-service/internal/app"
	"testpass-service/internal/domain"
)

const tickInterval = time.Second

// WSHandler drives one test-passing session over a websocket: start or resume,
// record answers, navigate, and deliver the graded result (on explicit finish
// or on expiry).
type WSHandler struct {
	engine    *app.Engine
	upgrader  websocket.Upgrader
	lifecycle func() *app.Lifecycle
}

func NewWSHandler(engine *app.Engine) *WSHandler {
	return &WSHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		lifecycle: app.NewLifecycle,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string        `json:"questionId"`
	Answer     domain.Answer `json:"answer"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type sessionPayload struct {
	TestID           string          `json:"testId"`
	Mode             string          `json:"mode"`
	QuestionIDs      []string        `json:"questionIds"`
	CurrentIndex     int             `json:"currentIndex"`
	Answered         map[string]bool `json:"answered"`
	RemainingSeconds int             `json:"remainingSeconds,omitempty"`
	Resumed          bool            `json:"resumed"`
}

type answeredPayload struct {
	QuestionID string `json:"questionId"`
	Answered   bool   `json:"answered"`
}

type redirectPayload struct {
	TestID string `json:"testId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and runs the session protocol on the socket.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	testID := r.URL.Query().Get("testId")
	if testID == "" {
		http.Error(w, "missing testId", http.StatusBadRequest)
		return
	}
	mode := domain.SessionMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = domain.ModeFull
	}
	cfg := app.BuildConfig{
		QuestionCount:    queryInt(r, "count"),
		PassThreshold:    queryInt(r, "threshold"),
		TimeLimitMinutes: queryInt(r, "timeLimit"),
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				if err := conn.WriteJSON(msg); err != nil {
					log.Printf("ws write error: %v", err)
					return
				}
			case <-done:
				// Flush anything queued before shutdown, the result may
				// have been enqueued right before the handler returned.
				for {
					select {
					case msg := <-send:
						if err := conn.WriteJSON(msg); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
	defer func() {
		close(done)
		<-writerDone
	}()

	push := func(msg outboundMessage[any]) bool {
		return pushOutbound(send, writerDone, msg)
	}

	// Navigation guard: an unfinished attempt at another test wins, the
	// client is told to go back to it.
	if active, ok := h.engine.ActiveSession(r.Context()); ok && active.TestID != testID {
		push(outboundMessage[any]{Type: "redirect", Payload: redirectPayload{TestID: active.TestID}})
		return
	}

	session, state, err := h.engine.Resume(r.Context(), testID)
	if err != nil {
		// A broken mirror must not block the user; start fresh in memory.
		log.Printf("resume failed for %s, starting fresh: %v", testID, err)
		state = app.ResumeNone
	}

	if state == app.ResumeExpired {
		// The stored attempt already ran out of time; grade what was
		// answered instead of letting the user keep going.
		result, err := h.engine.Submit(r.Context())
		if err != nil {
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		push(outboundMessage[any]{Type: "expired", Payload: result})
		return
	}

	if state == app.ResumeNone {
		session, err = h.engine.Start(r.Context(), testID, mode, cfg)
		if err != nil {
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
	}

	lifecycle := h.lifecycle()
	lifecycle.Start(session, tickInterval, func() {
		result, err := h.engine.Submit(context.Background())
		if err != nil {
			log.Printf("auto-submit on expiry failed: %v", err)
			return
		}
		push(outboundMessage[any]{Type: "expired", Payload: result})
	})
	defer lifecycle.Stop()

	if !push(outboundMessage[any]{Type: "session", Payload: h.sessionPayload(session, lifecycle, state == app.ResumeActive)}) {
		return
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		var out outboundMessage[any]
		closing := false
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				out = outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				break
			}
			if err := h.engine.RecordAnswer(r.Context(), payload.QuestionID, payload.Answer); err != nil {
				out = outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				break
			}
			out = outboundMessage[any]{Type: "answered", Payload: answeredPayload{
				QuestionID: payload.QuestionID,
				Answered:   h.engine.IsAnswered(payload.QuestionID),
			}}
		case "navigate":
			var payload navigatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				out = outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid navigate payload"}}
				break
			}
			if err := h.engine.Navigate(r.Context(), payload.Index); err != nil {
				out = outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				break
			}
			if current, ok := h.engine.Current(); ok {
				out = outboundMessage[any]{Type: "position", Payload: navigatePayload{Index: current.CurrentIndex}}
			}
		case "finish":
			if err := lifecycle.Submit(); err != nil {
				out = outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				break
			}
			result, err := h.engine.Submit(r.Context())
			if err != nil {
				out = outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				break
			}
			_ = lifecycle.Graded()
			out = outboundMessage[any]{Type: "result", Payload: result}
			closing = true
		default:
			out = outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
		if out.Type != "" && !push(out) {
			return
		}
		if closing {
			return
		}
	}
}

// pushOutbound hands msg to the writer goroutine. Once the writer has exited
// its channel may never drain again, so a closed writerDone aborts the send
// instead of leaving the read loop blocked on a dead connection.
func pushOutbound(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func (h *WSHandler) sessionPayload(session domain.Session, lifecycle *app.Lifecycle, resumed bool) sessionPayload {
	answered := make(map[string]bool, len(session.QuestionIDs))
	for _, id := range session.QuestionIDs {
		answered[id] = h.engine.IsAnswered(id)
	}
	return sessionPayload{
		TestID:           session.TestID,
		Mode:             string(session.Mode),
		QuestionIDs:      session.QuestionIDs,
		CurrentIndex:     session.CurrentIndex,
		Answered:         answered,
		RemainingSeconds: int(lifecycle.Remaining() / time.Second),
		Resumed:          resumed,
	}
}

func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
