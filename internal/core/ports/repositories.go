package ports

import (
	"context"

	"callcore/internal/core/domain"
)

type CallLogRepository interface {
	Insert(ctx context.Context, entry domain.CallLogEntry) error
	List(ctx context.Context, limit int) ([]domain.CallLogEntry, error)
	ListByRecipient(ctx context.Context, recipient domain.RecipientID, limit int) ([]domain.CallLogEntry, error)
}
