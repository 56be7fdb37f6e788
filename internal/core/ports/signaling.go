package ports

import (
	"context"

	"callcore/internal/core/domain"
)

// SignalingSender delivers a call message to every device or to one device of
// a recipient. Errors are *domain.UntrustedIdentityError,
// domain.ErrUnregisteredUser or a transport failure.
type SignalingSender interface {
	SendCallMessage(ctx context.Context, recipient domain.RecipientID, msg domain.CallMessage) error
}

type TurnServerProvider interface {
	TurnServerInfo(ctx context.Context) (domain.TurnServerInfo, error)
}
