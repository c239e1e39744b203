// Package transcribe turns recorded voice notes into text via the Whisper
// API.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrTranscriptionFailed marks upstream transcription failures.
var ErrTranscriptionFailed = errors.New("transcription failed")

// ErrEmptyAudio is returned for zero-length uploads.
var ErrEmptyAudio = errors.New("empty audio payload")

const defaultFilename = "audio.webm"

// Result is a completed transcription.
type Result struct {
	Text            string
	Language        string
	DurationSeconds float64
}

// Transcriber converts audio bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (Result, error)
}

// WhisperService implements Transcriber against an OpenAI-compatible API.
type WhisperService struct {
	client *openai.Client
}

// NewWhisperService builds a WhisperService. baseURL may be empty to use the
// public API, or point at a proxy.
func NewWhisperService(apiKey string, baseURL string) *WhisperService {
	clientConfig := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		clientConfig.BaseURL = baseURL
	}
	return &WhisperService{client: openai.NewClientWithConfig(clientConfig)}
}

// Transcribe sends the audio to Whisper. The filename extension tells the API
// the container format.
func (service *WhisperService) Transcribe(ctx context.Context, audio []byte, filename string) (Result, error) {
	if len(audio) == 0 {
		return Result{}, ErrEmptyAudio
	}
	if strings.TrimSpace(filename) == "" {
		filename = defaultFilename
	}

	response, err := service.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	return Result{
		Text:            response.Text,
		Language:        response.Language,
		DurationSeconds: response.Duration,
	}, nil
}
