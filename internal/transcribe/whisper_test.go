package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	t.Parallel()
	service := NewWhisperService("sk-test", "")
	if _, err := service.Transcribe(context.Background(), nil, "audio.webm"); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}
}

func TestTranscribeCallsWhisperEndpoint(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("unexpected model %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     "a spoken margin note",
			"language": "english",
			"duration": 3.4,
		})
	}))
	defer server.Close()

	service := NewWhisperService("sk-test", server.URL)
	result, err := service.Transcribe(context.Background(), []byte("fake-webm-bytes"), "note.webm")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "a spoken margin note" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Language != "english" || result.DurationSeconds != 3.4 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestTranscribeWrapsUpstreamFailure(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad audio"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	service := NewWhisperService("sk-test", server.URL)
	if _, err := service.Transcribe(context.Background(), []byte("noise"), "note.webm"); !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
}
