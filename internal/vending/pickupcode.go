package vending

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"
)

// pickupCodeAttempts bounds the allocate-check-retry loop. Six-digit codes
// give ~900k values against a live set of at most a few hundred open orders
// per fleet, so five attempts failing in a row means something is wrong.
const pickupCodeAttempts = 5

// GeneratePickupCode returns a random 6-digit code drawn uniformly from
// [100000, 999999].
func GeneratePickupCode() string {
	return strconv.Itoa(100000 + rand.IntN(900000))
}

// FormatOrderNumber renders a counter value as a customer-facing order
// number, e.g. 83921.
func FormatOrderNumber(seq int64) string {
	return strconv.FormatInt(OrderNumberBase+seq, 10)
}

// DispensingID mints the opaque correlation token attached to a dispense
// command.
func DispensingID() string {
	return fmt.Sprintf("disp_%s", uuid.NewString())
}

// allocatePickupCode finds a code no other non-terminal order holds,
// excluding self (uuid.Nil for new orders). The check-then-write here is
// optimistic; the storage layer's uniqueness guard is the backstop, and
// callers retry on ErrDuplicatePickupCode.
func allocatePickupCode(ctx context.Context, orders OrderRepo, self uuid.UUID) (string, error) {
	for attempt := 0; attempt < pickupCodeAttempts; attempt++ {
		code := GeneratePickupCode()
		existing, err := orders.FindByPickupCode(ctx, code, TerminalStatuses, self)
		if err != nil {
			return "", fmt.Errorf("cannot check pickup code: %w", err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", Conflict("could not allocate a unique pickup code")
}

// retryOnDuplicateCode runs op, re-allocating a pickup code and retrying when
// the storage layer rejects it as a duplicate. This closes the window where
// two concurrent creations both pass the optimistic check.
func retryOnDuplicateCode(attempts int, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || !errors.Is(err, ErrDuplicatePickupCode) {
			return err
		}
	}
	return Conflict("could not allocate a unique pickup code")
}
