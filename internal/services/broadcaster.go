package services

import (
	"context"

	"mines-backend/internal/models"
)

// Notifier receives settled sessions and big wins after they have committed.
// Implementations must not block the caller for long and must swallow their
// own failures.
type Notifier interface {
	SessionSettled(ctx context.Context, session *models.GameSession)
	BigWin(ctx context.Context, win *models.BigWin)
}

// Notifiers fans every event out to each member in order.
type Notifiers []Notifier

func (n Notifiers) SessionSettled(ctx context.Context, session *models.GameSession) {
	for _, notifier := range n {
		notifier.SessionSettled(ctx, session)
	}
}

func (n Notifiers) BigWin(ctx context.Context, win *models.BigWin) {
	for _, notifier := range n {
		notifier.BigWin(ctx, win)
	}
}
