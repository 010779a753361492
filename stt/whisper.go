package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type WhisperRecognizer struct {
	model    whisper.Model
	language string
	prompt   string

	// one inference at a time per loaded model
	mu sync.Mutex
}

func NewWhisper(modelPath, language, hint string) (*WhisperRecognizer, error) {
	if modelPath == "" {
		return nil, &ServiceError{Engine: Whisper, Err: errors.New("no model path")}
	}
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, &ServiceError{Engine: Whisper, Err: fmt.Errorf("load model: %w", err)}
	}
	if language == "" {
		language = "auto"
	}
	return &WhisperRecognizer{
		model:    model,
		language: language,
		prompt:   hint,
	}, nil
}

func (w *WhisperRecognizer) Transcribe(ctx context.Context, pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", ErrNoSpeech
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", &ServiceError{Engine: Whisper, Err: fmt.Errorf("new context: %w", err)}
	}
	if err := wctx.SetLanguage(w.language); err != nil {
		return "", &ServiceError{Engine: Whisper, Err: fmt.Errorf("set language: %w", err)}
	}
	wctx.SetThreads(uint(max(1, runtime.NumCPU()/2)))
	if w.prompt != "" {
		wctx.SetInitialPrompt(w.prompt)
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return "", &ServiceError{Engine: Whisper, Err: fmt.Errorf("process: %w", err)}
	}

	var sb strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", &ServiceError{Engine: Whisper, Err: fmt.Errorf("next segment: %w", err)}
		}
		sb.WriteString(seg.Text)
		sb.WriteByte(' ')
	}

	text := normalize(sb.String())
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

func (w *WhisperRecognizer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model.Close()
}
