package quota

import (
	"fmt"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

// allowedTransitions is the subscription lifecycle graph. Terminal states
// (EXPIRED, CANCELLED) have no outgoing edges; reactivation after expiry is a
// new subscription, never a resurrection of the old row.
var allowedTransitions = map[types.SubscriptionStatus][]types.SubscriptionStatus{
	types.SubStatusPendingPayment: {
		types.SubStatusActive,
		types.SubStatusTrial,
		types.SubStatusCancelled,
	},
	types.SubStatusTrial: {
		types.SubStatusActive,
		types.SubStatusExpired,
		types.SubStatusCancelled,
	},
	types.SubStatusActive: {
		types.SubStatusSuspended,
		types.SubStatusExpired,
		types.SubStatusCancelled,
	},
	types.SubStatusSuspended: {
		types.SubStatusActive,
		types.SubStatusExpired,
		types.SubStatusCancelled,
	},
}

// CanTransition reports whether the lifecycle graph permits moving a
// subscription from one status to another.
func CanTransition(from, to types.SubscriptionStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// validateTransition returns the conflict error reported when a requested
// status change is not an edge of the lifecycle graph.
func validateTransition(from, to types.SubscriptionStatus) error {
	if from == to {
		return types.NewAppError(types.ErrCodeConflictTransition,
			fmt.Sprintf("subscription is already %s", from), nil)
	}
	if !CanTransition(from, to) {
		return types.NewAppError(types.ErrCodeConflictTransition,
			fmt.Sprintf("cannot transition subscription from %s to %s", from, to), nil)
	}
	return nil
}
