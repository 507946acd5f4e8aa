package funding

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrDeclined is returned when the acquirer refuses an authorization.
var ErrDeclined = errors.New("card authorization declined")

// Acquirer represents a connector to an external card processor.
type Acquirer interface {
	AuthorizeCardIn(ctx context.Context, input CardInAuthorization) (AuthorizationDecision, error)
	AuthorizeCardOut(ctx context.Context, input CardOutAuthorization) (AuthorizationDecision, error)
}

// AuthorizationDecision captures the acquirer's response.
type AuthorizationDecision struct {
	Reference string
	Status    string
}

// CardInAuthorization carries what the acquirer needs to charge a card.
type CardInAuthorization struct {
	CardNumber string
	Expiry     string
	CVV        string
	Amount     decimal.Decimal
}

// CardOutAuthorization carries what the acquirer needs to push funds to a card.
type CardOutAuthorization struct {
	CardNumber string
	Amount     decimal.Decimal
}

// StaticAcquirer approves every request with a synthetic reference.
type StaticAcquirer struct{}

func (StaticAcquirer) AuthorizeCardIn(_ context.Context, _ CardInAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: statusApproved}, nil
}

func (StaticAcquirer) AuthorizeCardOut(_ context.Context, _ CardOutAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: statusApproved}, nil
}
