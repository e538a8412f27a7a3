// Package sms abstracts the outbound SMS provider.
package sms

import (
	"context"

	"github.com/recoverly/dunning-engine/pkg/logger"
)

// Sender delivers one SMS to a normalized E.164 number.
type Sender interface {
	Send(ctx context.Context, to, message string) error
}

// LogSender is the default sender when no provider is configured: it logs
// the message and reports success. Local development and staging use it.
type LogSender struct {
	logger *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

func (s *LogSender) Send(_ context.Context, to, message string) error {
	s.logger.Info("sms dispatched", "to", to, "length", len(message))
	return nil
}
