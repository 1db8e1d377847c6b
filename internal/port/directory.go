package port

import (
	"context"
	"time"

	"github.com/rl1809/coop-exchange/internal/core/domain"
)

// AuthorizationRegistry answers controlled-substance questions backed by the
// profile-document service.
type AuthorizationRegistry interface {
	HasAuthorization(ctx context.Context, memberID string, kind domain.AuthorizationKind, substanceID string, at time.Time) (bool, error)
}

type MemberDirectory interface {
	// ActiveMemberCount counts active members holding a tax id.
	ActiveMemberCount(ctx context.Context) (int, error)
	FindMemberByEmail(ctx context.Context, email string) (domain.Member, error)
}
