// Package notify announces completed pipeline runs to chat and webhook
// destinations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notification is the data sent to notification destinations.
type Notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Mode      string `json:"mode"`
	RunID     string `json:"run_id"`
	Count     int    `json:"count"`
	ModelType string `json:"model_type,omitempty"`
}

// Notifier delivers notifications to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewManager creates a new notification manager.
func NewManager(notifiers []Notifier, logger *zap.Logger) *Manager {
	return &Manager{notifiers: notifiers, logger: logger}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. One failing
// destination does not stop the others; failures are joined.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			m.logger.Warn("notification failed", zap.String("notifier", notifier.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
			continue
		}
		m.logger.Debug("notification sent", zap.String("notifier", notifier.Name()), zap.String("run_id", n.RunID))
	}
	return errors.Join(errs...)
}

func newClient() *resty.Client {
	return resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json")
}
