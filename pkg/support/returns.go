package support

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// --- Generate-Return-Authorization ---

// generateReturnAuthorization derives the RA code from the order id alone,
// so the same order always gets the same code.
func generateReturnAuthorization(ctx context.Context, args OrderArgs) (string, error) {
	return ReturnAuthorization(int(args.OrderID)), nil
}

// ReturnAuthorization returns the deterministic code RA<5 digits> for an
// order.
func ReturnAuthorization(orderID int) string {
	r := rand.New(rand.NewPCG(uint64(orderID), 0x5e1e))
	return fmt.Sprintf("RA%d", r.IntN(90000)+10000)
}
