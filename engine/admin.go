package engine

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"mirror-ledger/models"
)

// SetHalted toggles the global halt gate. While halted, every mutating
// trade/session operation is rejected. The toggle itself is never
// gated, otherwise a halted engine could not be resumed.
func (e *Engine) SetHalted(ctx context.Context, caller common.Address, halted bool) error {
	if err := guard(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOperator(caller) {
		return fmt.Errorf("%w: caller %s is not an operator", ErrUnauthorized, caller.Hex())
	}
	e.halted = halted
	log.Printf("[Admin] halted=%v by %s", halted, caller.Hex())
	return nil
}

// SetOperator reassigns the operator role. Owner only.
func (e *Engine) SetOperator(ctx context.Context, caller, operator common.Address) error {
	if err := guard(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	if operator == zeroAddress {
		return fmt.Errorf("%w: zero operator address", ErrInvalidArgument)
	}
	e.operator = operator
	log.Printf("[Admin] operator set to %s", operator.Hex())
	return nil
}

// SetExchangeEndpoint rotates the router address approvals target.
// Rotations are capped and each one is recorded with a sequence number.
func (e *Engine) SetExchangeEndpoint(ctx context.Context, caller, router common.Address) error {
	if err := guard(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOperator(caller) {
		return fmt.Errorf("%w: caller %s is not an operator", ErrUnauthorized, caller.Hex())
	}
	if router == zeroAddress {
		return fmt.Errorf("%w: zero router address", ErrInvalidArgument)
	}
	if e.led.RouterUpdateCount() >= MaxRouterUpdates {
		return fmt.Errorf("%w: router update ceiling %d reached", ErrCapacityExceeded, MaxRouterUpdates)
	}

	height, err := e.height(ctx)
	if err != nil {
		return err
	}

	seq := uint32(e.led.RouterUpdateCount() + 1)
	e.led.AppendRouterUpdate(models.RouterUpdate{Seq: seq, Router: router, Block: height})
	e.router = router
	log.Printf("[Admin] router rotated to %s seq=%d", router.Hex(), seq)
	return nil
}

// WithdrawFees pushes engine-held custody balance out to a recipient.
// Owner only.
func (e *Engine) WithdrawFees(ctx context.Context, caller, token, to common.Address, amount *big.Int) error {
	if err := guard(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isOwner(caller) {
		return fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, caller.Hex())
	}
	if to == zeroAddress || token == zeroAddress {
		return fmt.Errorf("%w: zero address", ErrInvalidArgument)
	}
	if !validAmount(amount) {
		return fmt.Errorf("%w: zero amount", ErrInvalidArgument)
	}

	if err := e.custody.PushTo(markInFlight(ctx), token, to, amount); err != nil {
		return fmt.Errorf("%w: withdraw: %v", ErrCollaborator, err)
	}
	log.Printf("[Admin] withdrew %s of %s to %s", amount, token.Hex(), to.Hex())
	return nil
}
