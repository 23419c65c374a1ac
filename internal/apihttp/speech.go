package apihttp

import (
	"net/http"
	"strconv"

	"github.com/keithlinneman/portfolio-web/internal/validate"
)

const MaxSpeechLength = 1000

type speechRequest struct {
	Text string `json:"text"`
}

// HandleTTS synthesizes the request text and returns the audio.
func (api *API) HandleTTS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.tts == nil {
		api.writeUnavailable(ctx, w, "speech")
		return
	}

	var req speechRequest
	if err := api.decodeJSON(w, r, &req); err != nil {
		api.writeDecodeError(ctx, w, "tts", err)
		return
	}
	text, err := validate.SafeText(req.Text, MaxSpeechLength)
	if err != nil {
		api.writeInvalid(ctx, w, "tts", "text", validate.Reason(err))
		return
	}

	audio, err := api.tts.Synthesize(ctx, text)
	if err != nil {
		api.logger.Error(ctx, err, "speech synthesis failed", "chars", len(text))
		api.writeJSON(ctx, w, http.StatusBadGateway, errorResponse{Error: "speech is unavailable, try again later"})
		return
	}

	h := w.Header()
	h.Set("Content-Type", audio.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(audio.Data)))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}
