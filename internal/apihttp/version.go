package apihttp

import (
	"net/http"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/version"
)

type versionResponse struct {
	Build          version.Info `json:"build"`
	ContentVersion string       `json:"content_version,omitempty"`
	ContentHash    string       `json:"content_hash,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	ServerTime     time.Time    `json:"server_time"`
}

// HandleVersion reports what is running: the binary's build info and the loaded content.
func (api *API) HandleVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := versionResponse{
		Build:      api.build,
		StartedAt:  api.started.UTC().Truncate(time.Second),
		ServerTime: api.now().UTC().Truncate(time.Second),
	}
	if api.site != nil {
		resp.ContentVersion = api.site.ContentVersion()
		resp.ContentHash = api.site.ContentHash()
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}
