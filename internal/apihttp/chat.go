package apihttp

import (
	"net/http"

	"github.com/keithlinneman/portfolio-web/internal/llm"
	"github.com/keithlinneman/portfolio-web/internal/validate"
)

const (
	MaxChatMessages      = 20
	MaxChatMessageLength = 2000
)

const chatInstructions = `You answer visitors' questions on a personal portfolio site.
Only use the facts below. If the answer is not in them, say you don't know.
Keep replies short and plain text.

`

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// HandleChat forwards a validated conversation to the LLM with the portfolio as context.
func (api *API) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.llm == nil || api.site == nil {
		api.writeUnavailable(ctx, w, "chat")
		return
	}

	var req chatRequest
	if err := api.decodeJSON(w, r, &req); err != nil {
		api.writeDecodeError(ctx, w, "chat", err)
		return
	}
	if n := len(req.Messages); n == 0 || n > MaxChatMessages {
		api.writeInvalid(ctx, w, "chat", "messages", "message_count")
		return
	}

	msgs := make([]llm.Message, 0, len(req.Messages)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: chatInstructions + api.site.Digest()})
	for _, m := range req.Messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			api.writeInvalid(ctx, w, "chat", "role", "invalid_role")
			return
		}
		content, err := validate.SafeText(m.Content, MaxChatMessageLength)
		if err != nil {
			api.writeInvalid(ctx, w, "chat", "content", validate.Reason(err))
			return
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: content})
	}

	reply, err := api.llm.Complete(ctx, msgs)
	if err != nil {
		api.logger.Error(ctx, err, "chat completion failed", "messages", len(req.Messages))
		api.writeJSON(ctx, w, http.StatusBadGateway, errorResponse{Error: "the assistant is unavailable, try again later"})
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, chatResponse{Reply: reply})
}
