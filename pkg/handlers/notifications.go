package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/notify"
	"sitter-points-backend/pkg/utils"
)

// NotificationInbox reads and acknowledges a member's notifications.
type NotificationInbox interface {
	List(ctx context.Context, memberID string) ([]models.Notification, error)
	UnseenCount(ctx context.Context, memberID string) (int, error)
	MarkSeen(ctx context.Context, memberID, id string) error
	MarkAllSeen(ctx context.Context, memberID string) (int, error)
}

// NotificationsHandler serves the caller's notification inbox.
type NotificationsHandler struct {
	inbox NotificationInbox
	log   *zap.Logger
}

// NewNotificationsHandler creates a NotificationsHandler.
func NewNotificationsHandler(inbox NotificationInbox, log *zap.Logger) *NotificationsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationsHandler{inbox: inbox, log: log.Named("notifications")}
}

func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	list, err := h.inbox.List(r.Context(), member.ID)
	if err != nil {
		h.failed(w, "list notifications", member.ID, err)
		return
	}
	utils.WriteSuccessResponse(w, nonNil(list))
}

func (h *NotificationsHandler) UnseenCount(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	count, err := h.inbox.UnseenCount(r.Context(), member.ID)
	if err != nil {
		h.failed(w, "count unseen", member.ID, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]int{"count": count})
}

func (h *NotificationsHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	if err := h.inbox.MarkSeen(r.Context(), member.ID, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			utils.WriteNotFoundResponse(w, "Notification not found")
			return
		}
		h.failed(w, "mark seen", member.ID, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]string{"status": string(models.NotificationSeen)})
}

func (h *NotificationsHandler) MarkAllSeen(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMember(w, r)
	if !ok {
		return
	}
	updated, err := h.inbox.MarkAllSeen(r.Context(), member.ID)
	if err != nil {
		h.failed(w, "mark all seen", member.ID, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]int{"updated": updated})
}

func (h *NotificationsHandler) failed(w http.ResponseWriter, op, memberID string, err error) {
	h.log.Error(op, zap.String("member_id", memberID), zap.Error(err))
	utils.WriteInternalServerErrorResponse(w, "Something went wrong, please try again")
}
