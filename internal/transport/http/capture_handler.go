package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/quizbankorg/quizbank/internal/app"
	"github.com/quizbankorg/quizbank/internal/domain"
)

// AnswerFinder resolves best answers by fingerprint; in the server wiring it
// is the read-through cache in front of the repository.
type AnswerFinder interface {
	BestAnswer(ctx context.Context, fingerprint string) (domain.BestAnswer, error)
}

// CaptureHandler exposes the capture and replay endpoints the extension
// client talks to.
type CaptureHandler struct {
	service *app.BankService
	answers AnswerFinder
}

func NewCaptureHandler(service *app.BankService, answers AnswerFinder) *CaptureHandler {
	return &CaptureHandler{service: service, answers: answers}
}

type captureRequest struct {
	AttemptContext string                    `json:"attemptContext"`
	Questions      []domain.ObservedQuestion `json:"questions"`
}

// HandleCapture accepts a batch of observed question/answer pairs.
func (h *CaptureHandler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid capture payload", http.StatusBadRequest)
		return
	}
	if req.AttemptContext == "" {
		http.Error(w, "missing attemptContext", http.StatusBadRequest)
		return
	}

	report, err := h.service.CaptureBatch(r.Context(), req.AttemptContext, req.Questions)
	if err != nil {
		log.Printf("capture batch: %v", err)
		http.Error(w, "capture failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleBestAnswer serves replay lookups, either by fingerprint or by the
// native-id fallback (nativeId + context query parameters).
func (h *CaptureHandler) HandleBestAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		best domain.BestAnswer
		err  error
	)
	if fp := r.URL.Query().Get("fingerprint"); fp != "" {
		best, err = h.answers.BestAnswer(r.Context(), fp)
	} else if nativeID := r.URL.Query().Get("nativeId"); nativeID != "" {
		best, err = h.service.BestAnswerByNative(r.Context(), nativeID, r.URL.Query().Get("context"))
	} else {
		http.Error(w, "missing fingerprint or nativeId", http.StatusBadRequest)
		return
	}

	if errors.Is(err, domain.ErrBestAnswerNotFound) || errors.Is(err, domain.ErrQuestionNotFound) {
		http.Error(w, "no enhanced answer available", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("best answer lookup: %v", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, best)
}

// HandleQuestion returns the stored question record for a fingerprint.
func (h *CaptureHandler) HandleQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fp := r.URL.Query().Get("fingerprint")
	if fp == "" {
		http.Error(w, "missing fingerprint", http.StatusBadRequest)
		return
	}
	q, err := h.service.Question(r.Context(), fp)
	if errors.Is(err, domain.ErrQuestionNotFound) {
		http.Error(w, "question not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("question lookup: %v", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
