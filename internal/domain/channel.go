package domain

import "context"

// Channel is a user-facing surface: web, CLI, chat bots or the webhook.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
