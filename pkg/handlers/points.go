package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/utils"
)

// PointsReader exposes balances and ledger history.
type PointsReader interface {
	Balance(ctx context.Context, memberID string) (int, error)
	History(ctx context.Context, memberID string) ([]models.PointTransaction, error)
}

// PointsHandler serves the caller's balance and history.
type PointsHandler struct {
	points PointsReader
	log    *zap.Logger
}

// NewPointsHandler creates a PointsHandler.
func NewPointsHandler(points PointsReader, log *zap.Logger) *PointsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PointsHandler{points: points, log: log.Named("points")}
}

// Balance returns the caller's spendable points.
func (h *PointsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	balance, err := h.points.Balance(r.Context(), member.ID)
	if err != nil {
		h.log.Error("balance", zap.String("member_id", member.ID), zap.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
		return
	}
	utils.WriteSuccessResponse(w, map[string]int{"points": balance})
}

// History returns the caller's ledger entries, newest first.
func (h *PointsHandler) History(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	entries, err := h.points.History(r.Context(), member.ID)
	if err != nil {
		h.log.Error("history", zap.String("member_id", member.ID), zap.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
		return
	}
	utils.WriteSuccessResponse(w, nonNil(entries))
}
