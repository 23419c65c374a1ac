package apihttp

import (
	"errors"
	"net/http"

	"github.com/keithlinneman/portfolio-web/internal/contact"
	"github.com/keithlinneman/portfolio-web/internal/httpmw"
)

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type contactResponse struct {
	Status string `json:"status"`
}

// HandleContact validates a contact form submission and stores it.
func (api *API) HandleContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.sink == nil {
		api.writeUnavailable(ctx, w, "contact")
		return
	}

	var req contactRequest
	if err := api.decodeJSON(w, r, &req); err != nil {
		api.metrics.IncContactSubmission("invalid")
		api.writeDecodeError(ctx, w, "contact", err)
		return
	}

	sub := contact.Submission{
		Name:       req.Name,
		Email:      req.Email,
		Message:    req.Message,
		ReceivedAt: api.now().UTC(),
		ClientID:   clientID(r),
		RequestID:  httpmw.RequestIDFromContext(ctx),
	}
	if err := sub.Validate(); err != nil {
		api.metrics.IncContactSubmission("invalid")
		var fe *contact.FieldError
		if errors.As(err, &fe) {
			api.writeInvalid(ctx, w, "contact", fe.Field, fe.Reason)
			return
		}
		api.writeInvalid(ctx, w, "contact", "", "invalid")
		return
	}

	if err := api.sink.Store(ctx, sub); err != nil {
		api.metrics.IncContactSubmission("failed")
		api.logger.Error(ctx, err, "failed to store contact submission")
		api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "could not send your message, try again later"})
		return
	}
	api.metrics.IncContactSubmission("stored")
	api.writeJSON(ctx, w, http.StatusAccepted, contactResponse{Status: "received"})
}
