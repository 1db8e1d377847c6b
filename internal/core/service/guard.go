package service

import (
	"context"
	"strings"

	"github.com/raulk/clock"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

// AuthorizationGuard enforces controlled-substance licensing before a member
// sells or acquires a substance.
type AuthorizationGuard struct {
	products port.Reader
	registry port.AuthorizationRegistry
	clock    clock.Clock
}

func NewAuthorizationGuard(products port.Reader, registry port.AuthorizationRegistry, clk clock.Clock) *AuthorizationGuard {
	return &AuthorizationGuard{products: products, registry: registry, clock: clk}
}

// Check fails with a Forbidden error naming every authorization kind the
// member lacks for the substance. Unknown substances carry no controls.
func (g *AuthorizationGuard) Check(ctx context.Context, memberID, substanceID string) error {
	product, err := g.products.GetProduct(ctx, substanceID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil
		}
		return err
	}
	if len(product.Controls) == 0 {
		return nil
	}
	if g.registry == nil {
		return domain.ErrUnauthorizedSubst.With("substance %s is controlled and no authorization registry is configured", substanceID)
	}

	now := g.clock.Now()
	var missing []string
	for _, kind := range product.Controls {
		ok, err := g.registry.HasAuthorization(ctx, memberID, kind, substanceID, now)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		return domain.ErrUnauthorizedSubst.With("substance %s requires an active, unexpired %s authorization",
			substanceID, strings.Join(missing, " and "))
	}
	return nil
}
