package engine

import (
	"context"
	"fmt"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
)

// CommandType names a player action arriving from a transport.
type CommandType string

const (
	CmdClick       CommandType = "CLICK"
	CmdLevelUp     CommandType = "LEVEL_UP"
	CmdBuyUpgrade  CommandType = "BUY_UPGRADE"
	CmdSellUpgrade CommandType = "SELL_UPGRADE"
	CmdReset       CommandType = "RESET"
	CmdRecompute   CommandType = "RECOMPUTE"
	CmdClaimBonus  CommandType = "CLAIM_BONUS"
	CmdAnswerGate  CommandType = "ANSWER_GATE"
	CmdSetLanguage CommandType = "SET_LANGUAGE"
	CmdGetState    CommandType = "GET_STATE"
)

// Command is a player action shared by the WebSocket and HTTP transports.
type Command struct {
	Type     CommandType `json:"type"`
	Key      upgrade.Key `json:"key,omitempty"`
	Count    int         `json:"count,omitempty"` // Sell; 0 means 1
	Confirm  bool        `json:"confirm,omitempty"`
	OfferID  string      `json:"offer_id,omitempty"`
	PromptID string      `json:"prompt_id,omitempty"`
	Choice   int         `json:"choice"`
	Language string      `json:"language,omitempty"` // Quiz question bank
}

// Blocking reports whether the command may wait on the gate.
func (c Command) Blocking() bool {
	return c.Type == CmdLevelUp || c.Type == CmdBuyUpgrade
}

// ClickResult is returned for CmdClick.
type ClickResult struct {
	Amount int64 `json:"amount"`
}

// AsideResult is returned for CmdRecompute.
type AsideResult struct {
	AsideCPS int64 `json:"aside_cps"`
	AsideCPC int64 `json:"aside_cpc"`
}

// Dispatch runs a command against the engine. Gated commands block until the gate answers
// or ctx is done.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) (interface{}, error) {
	switch cmd.Type {
	case CmdClick:
		return ClickResult{Amount: e.ledger.RegisterClick()}, nil
	case CmdLevelUp:
		res, err := e.ledger.LevelUp(ctx)
		return res, err
	case CmdBuyUpgrade:
		res, err := e.ledger.BuyUpgrade(ctx, cmd.Key)
		return res, err
	case CmdSellUpgrade:
		count := cmd.Count
		if count == 0 {
			count = 1
		}
		res, err := e.ledger.SellUpgrade(cmd.Key, count)
		return res, err
	case CmdReset:
		if !cmd.Confirm {
			return nil, ErrResetNotConfirmed
		}
		e.ledger.ResetAll()
		return e.ledger.Snapshot(), nil
	case CmdRecompute:
		cps, cpc := e.ledger.RecomputeAside()
		return AsideResult{AsideCPS: cps, AsideCPC: cpc}, nil
	case CmdClaimBonus:
		res, err := e.bonus.Claim(cmd.OfferID)
		return res, err
	case CmdAnswerGate:
		res, err := e.AnswerGate(cmd.PromptID, cmd.Choice)
		return res, err
	case CmdSetLanguage:
		res, err := e.SetLanguage(cmd.Language)
		return res, err
	case CmdGetState:
		return e.ledger.Snapshot(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
}
