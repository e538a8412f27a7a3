// Package inbound interprets customer SMS replies to dunning messages.
package inbound

import (
	"context"
	"strings"
	"time"

	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/pkg/logger"
)

// Reply actions, in match priority order: opt-out wins over help, help wins
// over payment intent, anything else falls through to the default.
const (
	ActionUnsubscribe           = "unsubscribe"
	ActionSendHelpInfo          = "send_help_info"
	ActionRedirectPaymentUpdate = "redirect_to_payment_update"
	ActionDefault               = "default"
)

// Response is what the SMS gateway should do with the reply.
type Response struct {
	Success bool      `json:"success"`
	Action  string    `json:"action"`
	Message string    `json:"message"`
	From    string    `json:"from"`
	At      time.Time `json:"at"`
}

type Handler struct {
	optOutKeywords       []string
	helpKeywords         []string
	paymentUpdatePhrases []string
	paymentUpdateURL     string
	supportPhone         string
	logger               *logger.Logger
	nowFn                func() time.Time
}

func NewHandler(cfg config.SMSConfig, paymentUpdateURL string, log *logger.Logger) *Handler {
	return &Handler{
		optOutKeywords:       upperAll(cfg.OptOutKeywords),
		helpKeywords:         upperAll(cfg.HelpKeywords),
		paymentUpdatePhrases: upperAll(cfg.PaymentUpdatePhrases),
		paymentUpdateURL:     paymentUpdateURL,
		supportPhone:         cfg.SupportPhone,
		logger:               log,
		nowFn:                time.Now,
	}
}

// Handle classifies one inbound SMS. Matching is case-insensitive and
// whitespace-tolerant; an unrecognized message still succeeds with the
// default acknowledgement so the customer is never left without a reply.
func (h *Handler) Handle(_ context.Context, from, body string) *Response {
	normalized := strings.ToUpper(strings.TrimSpace(body))

	resp := &Response{
		Success: true,
		From:    from,
		At:      h.nowFn(),
	}

	switch {
	case matchesKeyword(normalized, h.optOutKeywords):
		resp.Action = ActionUnsubscribe
		resp.Message = "You've been unsubscribed from SMS payment updates. We'll still email you about your account."
	case matchesKeyword(normalized, h.helpKeywords):
		resp.Action = ActionSendHelpInfo
		resp.Message = "Need a hand? Call us at " + h.supportPhone + " or update your payment method: " + h.paymentUpdateURL
	case matchesPhrase(normalized, h.paymentUpdatePhrases):
		resp.Action = ActionRedirectPaymentUpdate
		resp.Message = "Update your payment method here: " + h.paymentUpdateURL
	default:
		resp.Action = ActionDefault
		resp.Message = "Thanks for your reply. For billing help call " + h.supportPhone + " or reply HELP."
	}

	h.logger.Info("inbound sms handled", "from", from, "action", resp.Action)
	return resp
}

// matchesKeyword matches single-word commands: the whole message is the
// keyword, or the keyword appears as a standalone token. Trailing
// punctuation on a token does not defeat the match.
func matchesKeyword(normalized string, keywords []string) bool {
	tokens := strings.Fields(normalized)
	for i, tok := range tokens {
		tokens[i] = strings.Trim(tok, ".,!?:;\"'")
	}
	for _, kw := range keywords {
		if normalized == kw {
			return true
		}
		for _, tok := range tokens {
			if tok == kw {
				return true
			}
		}
	}
	return false
}

// matchesPhrase matches multi-word intents anywhere in the message.
func matchesPhrase(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}
