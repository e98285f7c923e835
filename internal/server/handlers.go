package server

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ad-auth-bridge/internal/auth"
	"github.com/isometry/ad-auth-bridge/internal/logging"
)

type handlers struct {
	authenticator Authenticator
	health        HealthChecker
}

type loginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

type principalResponse struct {
	LocalUserID string `json:"local_user_id"`
	Login       string `json:"login"`
	Native      bool   `json:"native"`
}

// rejectionStatus maps a rejection kind to its HTTP status.
func rejectionStatus(kind auth.Kind) int {
	switch kind {
	case auth.KindCredentialsMissing:
		return http.StatusBadRequest
	case auth.KindCredentialsChanged:
		return http.StatusConflict
	case auth.KindServiceError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "The request body could not be parsed.",
		})
		return
	}

	session := sessions.Default(c)
	result := h.authenticator.Login(c.Request.Context(), auth.Request{
		Username: req.Username,
		Password: req.Password,
		Session:  sessionState(session),
	}, sessionSecurityContext{session: session})

	if rejection, rejected := result.Rejection(); rejected {
		c.JSON(rejectionStatus(rejection.Kind), gin.H{
			"error":   string(rejection.Kind),
			"message": rejection.UserMessage(),
		})
		return
	}

	identity, _ := result.Identity()
	c.JSON(http.StatusOK, principalResponse{
		LocalUserID: identity.LocalUser.ID,
		Login:       identity.LocalUser.Login,
		Native:      identity.Native(),
	})
}

func (h *handlers) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		tflog.SubsystemError(c.Request.Context(), logging.HTTPSubsystem, "Failed to clear session", map[string]any{
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to save session",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) whoami(c *gin.Context) {
	session := sessions.Default(c)
	localUserID, _ := session.Get(sessionLocalUserID).(string)
	if localUserID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "not_authenticated",
		})
		return
	}

	login, _ := session.Get(sessionLogin).(string)
	native, _ := session.Get(sessionNative).(bool)
	c.JSON(http.StatusOK, principalResponse{
		LocalUserID: localUserID,
		Login:       login,
		Native:      native,
	})
}

func (h *handlers) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Healthcheck(c.Request.Context()); err != nil {
			tflog.SubsystemWarn(c.Request.Context(), logging.HTTPSubsystem, "Health check failed", map[string]any{
				"error": err.Error(),
			})
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
