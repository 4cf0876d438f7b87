package http

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quizbankorg/quizbank/internal/app"
	"github.com/quizbankorg/quizbank/internal/domain"
	"github.com/quizbankorg/quizbank/internal/infra/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.BankService) {
	t.Helper()
	service := app.NewBankService(memory.NewBankRepository(), log.Default())
	handler := NewCaptureHandler(service, service)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/capture", handler.HandleCapture)
	mux.HandleFunc("/api/answers", handler.HandleBestAnswer)
	mux.HandleFunc("/api/questions", handler.HandleQuestion)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, service
}

func TestCaptureEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(captureRequest{
		AttemptContext: "quiz-1",
		Questions: []domain.ObservedQuestion{{
			Text:             "What is the capital of France?",
			Type:             domain.MultipleChoice,
			Options:          []string{"Paris", "London"},
			NativeQuestionID: "101",
			TextSource:       domain.SourcePage,
			AnswerText:       "Paris",
			Outcome:          domain.OutcomeCorrect,
			PointsEarned:     1,
			PointsPossible:   1,
		}},
	})

	resp, err := http.Post(server.URL+"/api/capture", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var report domain.CaptureReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Captured != 1 || report.BestUpdated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestBestAnswerEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	body, _ := json.Marshal(captureRequest{
		AttemptContext: "quiz-1",
		Questions: []domain.ObservedQuestion{{
			Text:             "What is 2+2?",
			Type:             domain.ShortAnswer,
			NativeQuestionID: "17",
			TextSource:       domain.SourcePage,
			AnswerText:       "4",
			Outcome:          domain.OutcomeCorrect,
		}},
	})
	if _, err := http.Post(server.URL+"/api/capture", "application/json", bytes.NewReader(body)); err != nil {
		t.Fatalf("seed capture: %v", err)
	}

	fp, err := app.Fingerprint("What is 2+2?", domain.ShortAnswer, nil)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/answers?fingerprint=" + fp)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var best domain.BestAnswer
	if err := json.NewDecoder(resp.Body).Decode(&best); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if best.AnswerText != "4" || best.ConfidenceScore != 1 {
		t.Fatalf("unexpected best answer %+v", best)
	}

	// Native fallback resolves through the stored record.
	resp2, err := http.Get(server.URL + "/api/answers?nativeId=17&context=quiz-1")
	if err != nil {
		t.Fatalf("get by native: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 by native, got %d", resp2.StatusCode)
	}
}

func TestBestAnswerNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/answers?fingerprint=unknown")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCaptureRejectsMissingContext(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/capture", "application/json", bytes.NewReader([]byte(`{"questions":[]}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
