package inbound

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/pkg/logger"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := config.DefaultDunning()
	h := NewHandler(cfg.SMS, cfg.PaymentUpdateURL, logger.NewLogger(nil))
	h.nowFn = func() time.Time { return time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC) }
	return h
}

func TestHandleOptOut(t *testing.T) {
	h := newTestHandler(t)

	for _, body := range []string{"STOP", "stop", "  Stop  ", "please STOP now", "UNSUBSCRIBE", "quit"} {
		t.Run(body, func(t *testing.T) {
			resp := h.Handle(context.Background(), "+15551234567", body)
			assert.True(t, resp.Success)
			assert.Equal(t, ActionUnsubscribe, resp.Action)
			assert.Contains(t, resp.Message, "unsubscribed")
		})
	}
}

func TestHandleHelp(t *testing.T) {
	h := newTestHandler(t)

	for _, body := range []string{"HELP", "help", "INFO", "I need SUPPORT"} {
		t.Run(body, func(t *testing.T) {
			resp := h.Handle(context.Background(), "+15551234567", body)
			assert.Equal(t, ActionSendHelpInfo, resp.Action)
			assert.Contains(t, resp.Message, "+18005550199")
		})
	}
}

func TestHandlePaymentUpdateIntent(t *testing.T) {
	h := newTestHandler(t)

	for _, body := range []string{"UPDATE PAYMENT", "update payment please", "I want to update card", "PAY NOW"} {
		t.Run(body, func(t *testing.T) {
			resp := h.Handle(context.Background(), "+15551234567", body)
			assert.Equal(t, ActionRedirectPaymentUpdate, resp.Action)
			assert.Contains(t, resp.Message, "https://billing.example.com/payment-methods")
		})
	}
}

func TestHandleUnrecognizedMessageStillSucceeds(t *testing.T) {
	h := newTestHandler(t)

	resp := h.Handle(context.Background(), "+15551234567", "Hello, what is this about?")
	require.NotNil(t, resp)
	assert.True(t, resp.Success)
	assert.Equal(t, ActionDefault, resp.Action)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "+15551234567", resp.From)
}

// Opt-out always wins even when the message also mentions help or payment.
func TestHandlePriorityOrder(t *testing.T) {
	h := newTestHandler(t)

	resp := h.Handle(context.Background(), "+15551234567", "STOP, I don't need HELP")
	assert.Equal(t, ActionUnsubscribe, resp.Action)

	resp = h.Handle(context.Background(), "+15551234567", "HELP me update payment")
	assert.Equal(t, ActionSendHelpInfo, resp.Action)
}
