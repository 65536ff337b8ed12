package api

import (
	"fmt"
	"net/http"
	"strconv"

	apperrors "notification-service/internal/common/errors"
	"notification-service/internal/models"
	"notification-service/internal/notification/service"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondError(c, apperrors.NewValidationFailedError(fmt.Sprintf("invalid request body: %v", err)))
			return
		}

		n, err := s.svc.Send(c.Request.Context(), req)
		if err != nil {
			s.respondError(c, err)
			return
		}

		respond(c, http.StatusOK, "Notification sent successfully", gin.H{"notification_id": n.ID})
	}
}

func (s *Server) handleListForUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		if !principalFrom(c).CanAccess(userID) {
			s.respondError(c, apperrors.NewAccessDeniedError("cannot read another user's notifications"))
			return
		}

		page, err := intQuery(c, "page", 1, 1, 0)
		if err != nil {
			s.respondError(c, err)
			return
		}
		limit, err := intQuery(c, "limit", s.cfg.DefaultPageSize, 1, s.cfg.MaxPageSize)
		if err != nil {
			s.respondError(c, err)
			return
		}

		var status *models.Status
		if raw := c.Query("status"); raw != "" {
			st := models.Status(raw)
			status = &st
		}

		result, err := s.svc.ListForRecipient(c.Request.Context(), userID, page, limit, status)
		if err != nil {
			s.respondError(c, err)
			return
		}

		respond(c, http.StatusOK, "Notifications retrieved successfully", result)
	}
}

func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, ok := s.loadAccessible(c)
		if !ok {
			return
		}
		respond(c, http.StatusOK, "Notification retrieved successfully", gin.H{"notification": n})
	}
}

func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		n, err := s.svc.Get(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if n.RecipientID != principalFrom(c).Subject {
			s.respondError(c, apperrors.NewAccessDeniedError("only the recipient can mark a notification as read"))
			return
		}

		n, err = s.svc.MarkRead(c.Request.Context(), id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Notification marked as read", gin.H{"notification": n})
	}
}

func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, ok := s.loadAccessible(c)
		if !ok {
			return
		}

		deleted, err := s.svc.Delete(c.Request.Context(), n.ID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		if !deleted {
			s.respondError(c, apperrors.NewNotFoundError("notification", n.ID))
			return
		}
		respond(c, http.StatusOK, "Notification deleted successfully", nil)
	}
}

func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		if !principalFrom(c).CanAccess(userID) {
			s.respondError(c, apperrors.NewAccessDeniedError("cannot read another user's notifications"))
			return
		}

		count, err := s.svc.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Unread count retrieved successfully", gin.H{"unread_count": count})
	}
}

func (s *Server) handleTemplates() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principalFrom(c).IsPrivileged() {
			s.respondError(c, apperrors.NewAccessDeniedError("templates are restricted to staff"))
			return
		}
		respond(c, http.StatusOK, "Templates retrieved successfully", gin.H{"templates": s.svc.Templates()})
	}
}

func (s *Server) handleCleanup() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principalFrom(c).CanCleanup() {
			s.respondError(c, apperrors.NewAccessDeniedError("cleanup requires an admin role"))
			return
		}

		days, err := intQuery(c, "days", 30, service.MinCleanupDays, service.MaxCleanupDays)
		if err != nil {
			s.respondError(c, err)
			return
		}

		deleted, err := s.svc.Cleanup(c.Request.Context(), days)
		if err != nil {
			// Recipients purged before the failure stay deleted.
			s.respondErrorWith(c, err, gin.H{"deleted_count": deleted})
			return
		}
		respond(c, http.StatusOK, fmt.Sprintf("Cleaned up %d old notifications", deleted), gin.H{"deleted_count": deleted})
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		redisStatus := "connected"
		if err := s.svc.Healthy(c.Request.Context()); err != nil {
			redisStatus = "disconnected"
		}
		busStatus := "disconnected"
		if s.bus != nil && s.bus.Connected() {
			busStatus = "connected"
		}

		status, code := "healthy", http.StatusOK
		if redisStatus != "connected" || busStatus != "connected" {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(code, envelope{
			Success: code == http.StatusOK,
			Message: "Service is " + status,
			Data: gin.H{
				"status": status,
				"services": gin.H{
					"redis":    redisStatus,
					"rabbitmq": busStatus,
				},
			},
		})
	}
}

// loadAccessible fetches the :id notification and checks the caller may see it.
func (s *Server) loadAccessible(c *gin.Context) (*models.Notification, bool) {
	n, err := s.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	if !principalFrom(c).CanAccess(n.RecipientID) {
		s.respondError(c, apperrors.NewAccessDeniedError("cannot access another user's notification"))
		return nil, false
	}
	return n, true
}

// intQuery parses an integer query parameter. hi <= 0 means unbounded.
func intQuery(c *gin.Context, key string, def, lo, hi int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationFailedError(fmt.Sprintf("%s must be an integer", key))
	}
	if hi > 0 && (v < lo || v > hi) {
		return 0, apperrors.NewValidationFailedError(fmt.Sprintf("%s must be between %d and %d", key, lo, hi))
	}
	if v < lo {
		return 0, apperrors.NewValidationFailedError(fmt.Sprintf("%s must be at least %d", key, lo))
	}
	return v, nil
}
