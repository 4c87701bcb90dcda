package engine

import (
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/player"
	"github.com/MRamiBalles/CheeseClicker/server/internal/domain/upgrade"
	"github.com/MRamiBalles/CheeseClicker/server/internal/gate"
)

// ClickPayload is the data for EventTypeManualClick.
type ClickPayload struct {
	Amount int64   `json:"amount"`
	Score  float64 `json:"score"`
}

// LevelUpPayload is the data for EventTypeLevelUp and EventTypeLevelUpRejected.
type LevelUpPayload struct {
	Level   int     `json:"level"`
	Cost    int64   `json:"cost"`
	Penalty float64 `json:"penalty,omitempty"`
}

// PurchasePayload is the data for EventTypeUpgradePurchased and EventTypeUpgradeRejected.
type PurchasePayload struct {
	Key         upgrade.Key `json:"key"`
	TimesBought int         `json:"times_bought"`
	Cost        int64       `json:"cost"`
	Penalty     float64     `json:"penalty,omitempty"`
	Free        bool        `json:"free,omitempty"` // Granted by a bonus
}

// SalePayload is the data for EventTypeUpgradeSold.
type SalePayload struct {
	Key         upgrade.Key `json:"key"`
	Units       int         `json:"units"`
	Refund      int64       `json:"refund"`
	TimesBought int         `json:"times_bought"`
}

// MarkerPayload is the data for EventTypeMarkerSpawn and EventTypeMarkerRemoveOne.
type MarkerPayload struct {
	Marker player.Marker `json:"marker"`
}

// InsufficientFundsPayload is the data for EventTypeInsufficientFunds.
type InsufficientFundsPayload struct {
	Action gate.Action `json:"action"`
	Target string      `json:"target,omitempty"`
	Cost   int64       `json:"cost"`
	Score  float64     `json:"score"`
}

// BonusOfferPayload is the data for EventTypeBonusOffered and EventTypeBonusExpired.
type BonusOfferPayload struct {
	OfferID   string    `json:"offer_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BonusEndedPayload is the data for EventTypeBonusEnded.
type BonusEndedPayload struct {
	BoostID  string `json:"boost_id"`
	DeltaCPS int64  `json:"delta_cps"`
	DeltaCPC int64  `json:"delta_cpc"`
}
