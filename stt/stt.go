// Package stt turns short utterances into text with one of two engines:
// whisper.cpp running locally, or Gemini over the network.
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Recognizer transcribes 16 kHz mono samples in [-1, 1]. Implementations
// are safe for concurrent use.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
	Close() error
}

// ErrNoSpeech means the engine ran fine but heard nothing.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// ServiceError wraps a failure inside the engine itself: a bad model file,
// a rejected API call, a network error.
type ServiceError struct {
	Engine Engine
	Err    error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("stt %s: %v", e.Engine, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

type Engine string

const (
	Whisper Engine = "whisper"
	Google  Engine = "google"
)

var Engines = []Engine{Whisper, Google}

func ParseEngine(s string) (Engine, error) {
	switch e := Engine(strings.ToLower(strings.TrimSpace(s))); e {
	case Whisper, Google:
		return e, nil
	}
	return "", fmt.Errorf("unknown engine %q (want whisper or google)", s)
}

type Options struct {
	Engine       Engine
	Language     string
	WhisperModel string
	GeminiAPIKey string
	GeminiModel  string
	// Hint is a word the recognizer should expect, passed as a prompt.
	Hint string
}

// New builds the recognizer for opts.Engine.
func New(ctx context.Context, opts Options) (Recognizer, error) {
	var (
		r   Recognizer
		err error
	)
	switch opts.Engine {
	case Whisper:
		r, err = NewWhisper(opts.WhisperModel, opts.Language, opts.Hint)
	case Google:
		r, err = NewGoogle(ctx, opts.GeminiAPIKey, opts.GeminiModel, opts.Language, opts.Hint)
	default:
		return nil, fmt.Errorf("unknown engine %q", opts.Engine)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// nonSpeech are markers engines emit instead of words.
var nonSpeech = []string{
	"[blank_audio]",
	"[silence]",
	"[music]",
	"(silence)",
	"<none>",
}

// normalize lowercases text, drops non-speech markers and collapses
// whitespace.
func normalize(text string) string {
	text = strings.ToLower(text)
	for _, marker := range nonSpeech {
		text = strings.ReplaceAll(text, marker, " ")
	}
	return strings.Join(strings.Fields(text), " ")
}
