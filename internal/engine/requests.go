package engine

import (
	"fmt"
	"strings"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
	"github.com/shopspring/decimal"
)

// OpenRequest opens a position for Owner.
type OpenRequest struct {
	Owner      string        `json:"owner"`
	Symbol     string        `json:"symbol"`
	Side       position.Side `json:"side"`
	Size       uint64        `json:"size"`
	EntryPrice uint64        `json:"entry_price"`
	Leverage   uint16        `json:"leverage"`
}

func (r OpenRequest) Validate() error {
	if err := validateOwner(r.Owner); err != nil {
		return err
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", common.ErrInvalidSymbol)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: %d", common.ErrInvalidSide, int(r.Side))
	}
	if r.Size == 0 {
		return fmt.Errorf("%w: size must be positive", common.ErrInvalidPositionSize)
	}
	if r.EntryPrice == 0 {
		return fmt.Errorf("%w: entry price must be positive", common.ErrInvalidPrice)
	}
	if r.Leverage == 0 {
		return fmt.Errorf("%w: leverage must be positive", common.ErrInvalidLeverage)
	}
	return nil
}

// ModifyRequest adjusts an open position. Owner is the authenticated caller;
// an empty Owner means the host has already authorized the call.
type ModifyRequest struct {
	Owner       string `json:"owner,omitempty"`
	PositionID  string `json:"position_id"`
	SizeDelta   int64  `json:"size_delta"`
	MarginDelta int64  `json:"margin_delta"`
}

func (r ModifyRequest) Validate() error {
	if r.PositionID == "" {
		return fmt.Errorf("%w: position id is required", common.ErrPositionNotFound)
	}
	if r.SizeDelta == 0 && r.MarginDelta == 0 {
		return fmt.Errorf("%w: size_delta and margin_delta are both zero", common.ErrInvalidAmount)
	}
	return nil
}

// CloseRequest closes a position at ExitPrice.
type CloseRequest struct {
	Owner      string `json:"owner,omitempty"`
	PositionID string `json:"position_id"`
	ExitPrice  uint64 `json:"exit_price"`
}

func (r CloseRequest) Validate() error {
	if r.PositionID == "" {
		return fmt.Errorf("%w: position id is required", common.ErrPositionNotFound)
	}
	if r.ExitPrice == 0 {
		return fmt.Errorf("%w: exit price must be positive", common.ErrInvalidPrice)
	}
	return nil
}

// LiquidateRequest liquidates a position. A zero Price settles at the last
// mark price, or at the liquidation price when the position was never marked.
type LiquidateRequest struct {
	PositionID string `json:"position_id"`
	Price      uint64 `json:"price,omitempty"`
}

func (r LiquidateRequest) Validate() error {
	if r.PositionID == "" {
		return fmt.Errorf("%w: position id is required", common.ErrPositionNotFound)
	}
	return nil
}

func validateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return fmt.Errorf("%w: owner is required", common.ErrInvalidOwner)
	}
	return nil
}

// ========================================================

// OpenResult is the outcome of OpenPosition.
type OpenResult struct {
	Position           *position.Position  `json:"position"`
	User               *margin.UserAccount `json:"user"`
	Tier               margin.LeverageTier `json:"tier"`
	Margin             uint64              `json:"margin"`
	MaintenanceMargin  decimal.Decimal     `json:"maintenance_margin"`
	LiquidationPrice   uint64              `json:"liquidation_price"`
	LiquidationClamped bool                `json:"liquidation_clamped,omitempty"`
}

// ModifyResult is the outcome of ModifyPosition.
type ModifyResult struct {
	Position *position.Position  `json:"position"`
	User     *margin.UserAccount `json:"user"`
	Tier     margin.LeverageTier `json:"tier"`
}

// SettleResult is the outcome of ClosePosition and LiquidatePosition.
type SettleResult struct {
	Position        *position.Position  `json:"position"`
	User            *margin.UserAccount `json:"user"`
	RealizedPnL     int64               `json:"realized_pnl"`
	SettlementPrice uint64              `json:"settlement_price"`
	ReleasedMargin  uint64              `json:"released_margin"`
}
