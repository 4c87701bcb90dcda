// Package gate defines the approval step that stands between the player and a spend.
// The ledger only sees Gate; how approval is obtained (quiz, fixed answer) lives here.
package gate

import (
	"context"
	"errors"
)

// Outcome is the result of an approval request.
type Outcome string

const (
	Approved Outcome = "APPROVED"
	Rejected Outcome = "REJECTED"
)

// Action names the kind of spend being gated.
type Action string

const (
	ActionLevelUp    Action = "LEVEL_UP"
	ActionBuyUpgrade Action = "BUY_UPGRADE"
)

// Request describes the spend awaiting approval. Cost is the captured price.
type Request struct {
	Action Action `json:"action"`
	Target string `json:"target,omitempty"` // Upgrade key for purchases
	Cost   int64  `json:"cost"`
}

// Gate approves or rejects a spend. Implementations block until the outcome is
// known or ctx is done; a done ctx returns ctx.Err() and no outcome.
type Gate interface {
	RequestApproval(ctx context.Context, req Request) (Outcome, error)
}

// Func adapts a function to the Gate interface.
type Func func(ctx context.Context, req Request) (Outcome, error)

// RequestApproval calls f.
func (f Func) RequestApproval(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// Static always answers with the same outcome.
type Static Outcome

// RequestApproval returns the fixed outcome unless ctx is already done.
func (s Static) RequestApproval(ctx context.Context, _ Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Outcome(s), nil
}

var (
	ErrPromptNotFound = errors.New("gate prompt not found or already answered")
	ErrInvalidChoice  = errors.New("choice out of range")
)
