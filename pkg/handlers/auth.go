package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"sitter-points-backend/pkg/config"
	"sitter-points-backend/pkg/database"
	"sitter-points-backend/pkg/ledger"
	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/utils"
)

// MemberStore is the member persistence AuthHandler needs.
type MemberStore interface {
	CreateMember(ctx context.Context, member *models.Member) error
	GetMemberByEmail(ctx context.Context, email string) (*models.Member, error)
}

// PointsGranter credits the signup grant.
type PointsGranter interface {
	Credit(ctx context.Context, memberID string, amount int, reason ledger.Reason) (int, error)
}

// AuthHandler serves registration, login and token refresh.
type AuthHandler struct {
	config  *config.Config
	members MemberStore
	points  PointsGranter
	jwt     *utils.JWTService
	log     *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(cfg *config.Config, members MemberStore, points PointsGranter, jwt *utils.JWTService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		config:  cfg,
		members: members,
		points:  points,
		jwt:     jwt,
		log:     log.Named("auth"),
	}
}

// Register creates a member, grants the starting points and signs them in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.MemberRegisterRequest
	if err := utils.ParseAndValidate(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error("hash password", zap.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
		return
	}

	member := &models.Member{
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: string(hash),
		Name:     strings.TrimSpace(req.Name),
	}
	if err := h.members.CreateMember(r.Context(), member); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			utils.WriteConflictResponse(w, "An account with this email already exists")
			return
		}
		h.log.Error("create member", zap.String("email", member.Email), zap.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
		return
	}

	if grant := h.config.InitialPoints; grant > 0 {
		balance, err := h.points.Credit(r.Context(), member.ID, grant, ledger.Reason{Kind: models.ReasonSignupGrant})
		if err != nil {
			// The account exists; the member can still sign in and the grant
			// can be reapplied from the logs.
			h.log.Error("signup grant failed",
				zap.String("member_id", member.ID),
				zap.Int("amount", grant),
				zap.Error(err),
			)
		} else {
			member.Points = balance
		}
	}

	h.log.Info("member registered", zap.String("member_id", member.ID))
	h.writeSession(w, http.StatusCreated, member)
}

// Login exchanges email and password for a token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.MemberLoginRequest
	if err := utils.ParseAndValidate(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}

	member, err := h.members.GetMemberByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		h.log.Error("lookup member", zap.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
		return
	}
	if member == nil || bcrypt.CompareHashAndPassword([]byte(member.Password), []byte(req.Password)) != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid email or password")
		return
	}

	h.writeSession(w, http.StatusOK, member)
}

// RefreshToken issues a new access token for a valid refresh token.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := utils.ParseAndValidate(r, &req); err != nil {
		utils.WriteRequestError(w, err)
		return
	}

	accessToken, expiresIn, err := h.jwt.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token")
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   expiresIn,
	})
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, member *models.Member) {
	accessToken, refreshToken, expiresIn, err := h.jwt.GenerateTokenPair(member.ID, member.Email)
	if err != nil {
		h.log.Error("sign tokens", zap.String("member_id", member.ID), zap.Error(err))
		utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
		return
	}

	utils.WriteJSONResponse(w, status, models.MemberLoginResponse{
		Member:       *member,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	})
}
