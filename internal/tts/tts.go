// Package tts synthesizes speech through an ElevenLabs-style HTTP API.
package tts

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/upstream"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// MaxAudioBytes bounds a synthesized clip.
const MaxAudioBytes = 8 << 20

var ErrEmptyAudio = errors.New("tts returned no audio")

type Options struct {
	Endpoint   string
	APIKey     string
	Voice      string
	Model      string
	RPS        float64
	Timeout    time.Duration
	HTTPClient *http.Client
	Observe    func(outcome string, d time.Duration)
}

type Client struct {
	up     *upstream.Client
	url    string
	apiKey string
	model  string
}

func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" || opts.APIKey == "" || opts.Voice == "" {
		return nil, xerrors.New("tts: endpoint, api key and voice are required")
	}
	return &Client{
		up: upstream.New(upstream.Options{
			Provider:         "tts",
			RPS:              opts.RPS,
			Burst:            1,
			Timeout:          opts.Timeout,
			MaxResponseBytes: MaxAudioBytes,
			HTTPClient:       opts.HTTPClient,
			Observe:          opts.Observe,
		}),
		url:    strings.TrimRight(opts.Endpoint, "/") + "/v1/text-to-speech/" + url.PathEscape(opts.Voice),
		apiKey: opts.APIKey,
		model:  opts.Model,
	}, nil
}

type synthRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Audio is a synthesized clip.
type Audio struct {
	Data        []byte
	ContentType string
}

func (c *Client) Synthesize(ctx context.Context, text string) (Audio, error) {
	data, ct, err := c.up.PostJSON(ctx, c.url,
		http.Header{"xi-api-key": {c.apiKey}, "Accept": {"audio/mpeg"}},
		synthRequest{Text: text, ModelID: c.model},
	)
	if err != nil {
		return Audio{}, err
	}
	if len(data) == 0 {
		return Audio{}, xerrors.WithStack(ErrEmptyAudio)
	}
	if ct == "" || !strings.HasPrefix(ct, "audio/") {
		ct = "audio/mpeg"
	}
	return Audio{Data: data, ContentType: ct}, nil
}
