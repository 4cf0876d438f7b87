package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/quizbankorg/quizbank/internal/app"
	"github.com/quizbankorg/quizbank/internal/domain"
)

// WSHandler keeps one socket open per quiz attempt so the extension can push
// captures and pull answers without re-handshaking on every question.
type WSHandler struct {
	service  *app.BankService
	answers  AnswerFinder
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.BankService, answers AnswerFinder) *WSHandler {
	return &WSHandler{
		service: service,
		answers: answers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type capturePayload struct {
	Questions []domain.ObservedQuestion `json:"questions"`
}

type lookupPayload struct {
	Fingerprint      string `json:"fingerprint"`
	NativeQuestionID string `json:"nativeId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and runs the capture/lookup session loop. The
// attempt context comes from the query string and scopes every message on the
// connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	attemptContext := r.URL.Query().Get("context")
	if attemptContext == "" {
		http.Error(w, "missing context", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	// Single writer goroutine so two handlers never write the socket at once.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "ready", Payload: map[string]string{"context": attemptContext}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "capture":
			var payload capturePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid capture payload"}}
				continue
			}
			report, err := h.service.CaptureBatch(r.Context(), attemptContext, payload.Questions)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "captureResult", Payload: report}
		case "lookup":
			var payload lookupPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid lookup payload"}}
				continue
			}
			var best domain.BestAnswer
			if payload.Fingerprint != "" {
				best, err = h.answers.BestAnswer(r.Context(), payload.Fingerprint)
			} else if payload.NativeQuestionID != "" {
				best, err = h.service.BestAnswerByNative(r.Context(), payload.NativeQuestionID, attemptContext)
			} else {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "missing fingerprint or nativeId"}}
				continue
			}
			if errors.Is(err, domain.ErrBestAnswerNotFound) || errors.Is(err, domain.ErrQuestionNotFound) {
				send <- outboundMessage[any]{Type: "noAnswer", Payload: payload}
				continue
			}
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "bestAnswer", Payload: best}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(send)
	<-writerDone
}
