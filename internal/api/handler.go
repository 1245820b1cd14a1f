package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"frizo/position_engine/internal/common"
	"frizo/position_engine/internal/engine"
	"frizo/position_engine/internal/logger"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/position"
	"frizo/position_engine/internal/store"
	"frizo/position_engine/internal/version"
	"github.com/go-chi/chi/v5"
)

// OwnerHeader carries the authenticated caller. Authentication itself is
// done in front of this service.
const OwnerHeader = "X-Owner-ID"

// Handler adapts the engine to HTTP.
type Handler struct {
	engine *engine.Engine
	log    *logger.Logger
}

func NewHandler(e *engine.Engine, log *logger.Logger) *Handler {
	return &Handler{engine: e, log: log.With("component", "api")}
}

type CreateUserRequest struct {
	Owner string `json:"owner"`
}

type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

type ModifyBody struct {
	SizeDelta   int64 `json:"size_delta"`
	MarginDelta int64 `json:"margin_delta"`
}

type CloseBody struct {
	ExitPrice uint64 `json:"exit_price"`
}

type LiquidateBody struct {
	Price uint64 `json:"price,omitempty"`
}

type MarkRequest struct {
	Symbol string `json:"symbol"`
	Price  uint64 `json:"price"`
}

type MarkResponse struct {
	Symbol       string               `json:"symbol"`
	Price        uint64               `json:"price"`
	Liquidatable []*position.Position `json:"liquidatable"`
}

// decode reads a JSON body. Domain errors raised while decoding (an unknown
// side, say) keep their kind; anything else is a bad body.
func decode(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case optional && errors.Is(err, io.EOF):
		return nil
	case common.Kind(err) != nil:
		return err
	}
	return fmt.Errorf("%w: %v", errBadBody, err)
}

func caller(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(OwnerHeader))
}

// authorize requires the caller to be owner.
func authorize(r *http.Request, owner string) error {
	if c := caller(r); c != owner {
		return fmt.Errorf("%w: caller %q acting on %q", common.ErrUnauthorized, c, owner)
	}
	return nil
}

// identify returns the caller, rejecting requests without one. An empty owner
// reaching the engine would skip its ownership check.
func identify(r *http.Request) (string, error) {
	c := caller(r)
	if c == "" {
		return "", fmt.Errorf("%w: missing %s header", common.ErrUnauthorized, OwnerHeader)
	}
	return c, nil
}

// ========================================================
// Users

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	if req.Owner == "" {
		req.Owner = caller(r)
	}

	user, err := h.engine.InitializeUser(r.Context(), req.Owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.engine.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.engine.GetUser(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) GetUserPnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := h.engine.UserPnL(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pnl)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.moveCollateral(w, r, h.engine.Deposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moveCollateral(w, r, h.engine.Withdraw)
}

type collateralFunc func(ctx context.Context, owner string, amount uint64) (*margin.UserAccount, error)

func (h *Handler) moveCollateral(w http.ResponseWriter, r *http.Request, move collateralFunc) {
	owner := chi.URLParam(r, "owner")
	if err := authorize(r, owner); err != nil {
		writeError(w, err)
		return
	}
	var req AmountRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	user, err := move(r.Context(), owner, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ========================================================
// Positions

func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req engine.OpenRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	c, err := identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Owner != "" && req.Owner != c {
		writeError(w, authorize(r, req.Owner))
		return
	}
	req.Owner = c

	res, err := h.engine.OpenPosition(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{Owner: q.Get("owner"), Symbol: q.Get("symbol")}
	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: open=%q", errBadBody, v))
			return
		}
		filter.OpenOnly = open
	}

	positions, err := h.engine.ListPositions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.engine.GetPosition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *Handler) ModifyPosition(w http.ResponseWriter, r *http.Request) {
	owner, err := identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body ModifyBody
	if err := decode(r, &body, false); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.ModifyPosition(r.Context(), engine.ModifyRequest{
		Owner:       owner,
		PositionID:  chi.URLParam(r, "id"),
		SizeDelta:   body.SizeDelta,
		MarginDelta: body.MarginDelta,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	owner, err := identify(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body CloseBody
	if err := decode(r, &body, false); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.ClosePosition(r.Context(), engine.CloseRequest{
		Owner:      owner,
		PositionID: chi.URLParam(r, "id"),
		ExitPrice:  body.ExitPrice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	var body LiquidateBody
	if err := decode(r, &body, true); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.LiquidatePosition(r.Context(), engine.LiquidateRequest{
		PositionID: chi.URLParam(r, "id"),
		Price:      body.Price,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateMarks marks a symbol and reports what is past its liquidation price.
func (h *Handler) UpdateMarks(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	liquidatable, err := h.engine.UpdateMarkPrice(r.Context(), req.Symbol, req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	if liquidatable == nil {
		liquidatable = []*position.Position{}
	}
	writeJSON(w, http.StatusOK, MarkResponse{Symbol: req.Symbol, Price: req.Price, Liquidatable: liquidatable})
}

// ========================================================
// System

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Metrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) Tiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Tiers().Tiers())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": version.Service})
}

func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}
