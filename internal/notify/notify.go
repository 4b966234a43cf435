// internal/notify/notify.go

// Package notify delivers "please return" notices to borrowers. Delivery
// never blocks the circulation operation that triggered it.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// ReturnDue asks a borrower to bring a copy back by DueDate.
type ReturnDue struct {
	Recipient string    `json:"recipient"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	CopyRef   string    `json:"copy_ref"`
	DueDate   time.Time `json:"due_date"`
}

type Notifier interface {
	NotifyReturnDue(ctx context.Context, n ReturnDue) error
}

// LogNotifier writes notices to a structured logger instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) NotifyReturnDue(ctx context.Context, n ReturnDue) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "return requested",
		slog.String("recipient", n.Recipient),
		slog.String("name", n.Name),
		slog.String("title", n.Title),
		slog.String("copy", n.CopyRef),
		slog.Time("due", n.DueDate),
	)
	return nil
}

// Discard drops every notice.
type Discard struct{}

func (Discard) NotifyReturnDue(context.Context, ReturnDue) error { return nil }
