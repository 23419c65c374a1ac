package apihttp

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/keithlinneman/portfolio-web/internal/tts"
)

func TestHandleTTS_Success(t *testing.T) {
	stub := &stubTTS{audio: tts.Audio{Data: []byte("ID3\x03audio"), ContentType: "audio/mpeg"}}
	h := newTestRouter(t, Options{TTS: stub})

	rec := do(h, http.MethodPost, "/api/tts", `{"text":" Hello there "}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec.Header().Get("Content-Length") != "9" || rec.Body.String() != "ID3\x03audio" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if stub.got != "Hello there" {
		t.Fatalf("synthesized %q", stub.got)
	}
}

func TestHandleTTS_Invalid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("é", MaxSpeechLength+1)},
		{"iframe", "<iframe src=//evil>"},
		{"handler", "<body onload=steal()>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubTTS{}
			h := newTestRouter(t, Options{TTS: stub})
			rec := do(h, http.MethodPost, "/api/tts", `{"text":"`+tt.text+`"}`, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if e := decodeError(t, rec); e.Field != "text" {
				t.Fatalf("error = %+v", e)
			}
			if stub.got != "" {
				t.Fatal("synthesizer must not be called")
			}
		})
	}
}

func TestHandleTTS_UpstreamFailure(t *testing.T) {
	h := newTestRouter(t, Options{TTS: &stubTTS{err: errors.New("quota exceeded")}})
	rec := do(h, http.MethodPost, "/api/tts", `{"text":"hi"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
