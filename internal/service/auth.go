package service

import (
	"fmt"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

// Operation names an action a relayer may perform for an account.
type Operation string

const (
	OpPlaceOrder    Operation = "place_order"
	OpCancelOrder   Operation = "cancel_order"
	OpVaultDeposit  Operation = "vault_deposit"
	OpVaultWithdraw Operation = "vault_withdraw"
	OpWithdraw      Operation = "withdraw"
)

var operations = map[Operation]bool{
	OpPlaceOrder:    true,
	OpCancelOrder:   true,
	OpVaultDeposit:  true,
	OpVaultWithdraw: true,
	OpWithdraw:      true,
}

// ParseOperation returns the Operation named s.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !operations[op] {
		return "", fmt.Errorf("unknown relayer operation %q", s)
	}
	return op, nil
}

// Authorizer decides whether a caller may act for an account. Accounts
// always act for themselves; anyone else must be a relayer allowed the
// operation.
type Authorizer struct {
	grants map[string]map[Operation]bool
}

// NewAuthorizer builds an Authorizer from relayer → allowed operations.
func NewAuthorizer(relayers map[string][]Operation) *Authorizer {
	grants := make(map[string]map[Operation]bool, len(relayers))
	for relayer, ops := range relayers {
		allowed := make(map[Operation]bool, len(ops))
		for _, op := range ops {
			allowed[op] = true
		}
		grants[relayer] = allowed
	}
	return &Authorizer{grants: grants}
}

// Authorize returns ErrRelayerNotAllowed unless caller is owner or a relayer
// granted op. An empty caller means the owner itself.
func (a *Authorizer) Authorize(caller, owner string, op Operation) error {
	if caller == "" || caller == owner {
		return nil
	}
	if a != nil && a.grants[caller][op] {
		return nil
	}
	return fmt.Errorf("%w: %s may not %s for %s", domain.ErrRelayerNotAllowed, caller, op, owner)
}
