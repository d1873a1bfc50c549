// Package handler exposes the session lifecycle over HTTP: the multi-step
// login endpoints, refresh, logout, and the session listings.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	clientdomain "auth-gateway/internal/client/domain"
	"auth-gateway/internal/gateway"
	"auth-gateway/internal/httperr"
	"auth-gateway/internal/metrics"
	"auth-gateway/internal/session/domain"
	"auth-gateway/internal/session/service"
	userdomain "auth-gateway/internal/user/domain"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// privilegedRules authorizes access to other users' sessions.
var privilegedRules = gateway.RuleSet{
	{UserRole: userdomain.RoleSysadmin},
	{UserRole: userdomain.RoleEmployee},
	{ClientRole: clientdomain.RoleInternal, RequireAuthenticated: true},
}

type Handler struct {
	svc *service.Service
}

// New returns the session handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the session routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/sessions/login/email", h.loginEmail)
	r.POST("/sessions/login/password", h.loginPassword)
	r.POST("/sessions/login/code", h.loginCode)
	r.POST("/sessions/login/totp", h.loginTotp)
	r.POST("/sessions/refresh", h.refresh)
	r.POST("/sessions/logout", h.logout)
	r.GET("/sessions", h.listSessions)
	r.GET("/users/:id/sessions", h.listUserSessions)
}

type emailStep struct {
	T     string `json:"t"`
	Email string `json:"email"`
	State string `json:"state"`
}

func (h *Handler) loginEmail(c *gin.Context) {
	var body struct {
		Data emailStep `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Data.T != "email-step" ||
		body.Data.Email == "" || body.Data.State == "" {
		httperr.Render(c, httperr.BadRequest("INVALID-BODY",
			"Expected {data:{t:\"email-step\", email, state}}."))
		return
	}
	if err := h.svc.LoginWithEmail(c.Request.Context(), body.Data.Email, body.Data.State); err != nil {
		metrics.LoginsTotal.WithLabelValues("email", "failure").Inc()
		httperr.Render(c, err)
		return
	}
	metrics.LoginsTotal.WithLabelValues("email", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"step": "code-step"}})
}

type passwordStep struct {
	T        string `json:"t"`
	Email    string `json:"email"`
	Password string `json:"password"`
	State    string `json:"state"`
}

func (h *Handler) loginPassword(c *gin.Context) {
	var body struct {
		Data passwordStep `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Data.T != "password-step" ||
		body.Data.Email == "" || body.Data.Password == "" {
		httperr.Render(c, httperr.BadRequest("INVALID-BODY",
			"Expected {data:{t:\"password-step\", email, password, state}}."))
		return
	}
	result, err := h.svc.LoginWithPassword(c.Request.Context(),
		body.Data.Email, body.Data.Password, body.Data.State, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("password", "failure").Inc()
		httperr.Render(c, err)
		return
	}
	metrics.LoginsTotal.WithLabelValues("password", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"data": result})
}

type codeStep struct {
	T     string `json:"t"`
	Code  string `json:"code"`
	State string `json:"state"`
}

func (h *Handler) loginCode(c *gin.Context) {
	var body struct {
		Data codeStep `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Data.T != "code-step" ||
		body.Data.Code == "" {
		httperr.Render(c, httperr.BadRequest("INVALID-BODY",
			"Expected {data:{t:\"code-step\", code, state}}."))
		return
	}
	result, err := h.svc.LoginWithCode(c.Request.Context(),
		body.Data.Code, body.Data.State, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("code", "failure").Inc()
		httperr.Render(c, err)
		return
	}
	metrics.LoginsTotal.WithLabelValues("code", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"data": result})
}

type totpStep struct {
	T     string `json:"t"`
	Totp  string `json:"totp"`
	State string `json:"state"`
}

func (h *Handler) loginTotp(c *gin.Context) {
	var body struct {
		Data totpStep `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Data.T != "totp-step" ||
		body.Data.Totp == "" || body.Data.State == "" {
		httperr.Render(c, httperr.BadRequest("INVALID-BODY",
			"Expected {data:{t:\"totp-step\", totp, state}}."))
		return
	}
	result, err := h.svc.LoginWithTotp(c.Request.Context(),
		body.Data.Totp, body.Data.State, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("totp", "failure").Inc()
		httperr.Render(c, err)
		return
	}
	metrics.LoginsTotal.WithLabelValues("totp", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (h *Handler) refresh(c *gin.Context) {
	var body struct {
		Data struct {
			T     string `json:"t"`
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Data.T != service.ArtifactRefreshTokens ||
		body.Data.Token == "" {
		httperr.Render(c, httperr.BadRequest("INVALID-BODY",
			"Expected {data:{t:\"refresh-tokens\", token}}."))
		return
	}
	pair, err := h.svc.Refresh(c.Request.Context(), body.Data.Token)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("refresh", "failure").Inc()
		httperr.Render(c, err)
		return
	}
	metrics.LoginsTotal.WithLabelValues("refresh", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"data": pair})
}

func (h *Handler) logout(c *gin.Context) {
	var body struct {
		Data []service.Artifact `json:"data"`
	}
	// An empty body means "log out my current session".
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			httperr.Render(c, httperr.BadRequest("INVALID-BODY",
				"Expected {data:[{t, value}]} or an empty body."))
			return
		}
	}
	invalidated, err := h.svc.Invalidate(c.Request.Context(), callerFrom(c), body.Data)
	if err != nil {
		httperr.Render(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"invalidated": invalidated}})
}

func (h *Handler) listSessions(c *gin.Context) {
	auth := gateway.GetAuthContext(c)
	if !privilegedRules.Allows(auth) {
		httperr.Render(c, httperr.Forbidden("INSUFFICIENT-PRIVILEGE",
			"Listing all sessions requires a privileged caller."))
		return
	}
	h.list(c, "")
}

func (h *Handler) listUserSessions(c *gin.Context) {
	auth := gateway.GetAuthContext(c)
	userID := c.Param("id")
	if userID == "current" {
		if auth == nil || auth.User == nil {
			httperr.Render(c, httperr.Unauthorized("SESSION-TOKEN-NOT-FOUND",
				"Listing your sessions requires a session token."))
			return
		}
		userID = auth.User.UserID
	}
	self := auth != nil && auth.User != nil && auth.User.UserID == userID
	if !self && !privilegedRules.Allows(auth) {
		httperr.Render(c, httperr.Forbidden("INSUFFICIENT-PRIVILEGE",
			"Listing another user's sessions requires a privileged caller."))
		return
	}
	h.list(c, userID)
}

// list runs the shared filter/cursor plumbing. userID, when set, overrides
// any userId in the filter.
func (h *Handler) list(c *gin.Context, userID string) {
	filter := &domain.Filter{}
	if raw := c.Query("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), filter); err != nil {
			httperr.Render(c, httperr.BadRequest("INVALID-FILTER",
				"The filter query parameter must be a JSON object."))
			return
		}
		if filter.Created != nil {
			if _, err := filter.Created.SQLOp(); err != nil {
				httperr.Render(c, httperr.BadRequest("INVALID-FILTER",
					"The filter operator must be one of lt, gt, eq, lte, gte, ne."))
				return
			}
		}
	}
	if userID != "" {
		filter.UserID = userID
	}

	page := domain.Page{Size: defaultPageSize, Num: 1}
	if cursor := c.Query("cursor"); cursor != "" {
		num, err := DecodeCursor(cursor)
		if err != nil {
			httperr.Render(c, httperr.BadRequest("INVALID-CURSOR",
				"The cursor is not valid."))
			return
		}
		page.Num = num
	}
	if size := c.Query("size"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 1 {
			httperr.Render(c, httperr.BadRequest("INVALID-PAGE-SIZE",
				"The page size must be a positive number."))
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		page.Size = n
	}

	sessions, err := h.svc.List(c.Request.Context(), filter, page)
	if err != nil {
		httperr.Render(c, err)
		return
	}

	cursors := gin.H{}
	if len(sessions) == page.Size {
		cursors["next"] = EncodeCursor(page.Num + 1)
	}
	if page.Num > 1 {
		cursors["prev"] = EncodeCursor(page.Num - 1)
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions, "cursors": cursors})
}

func callerFrom(c *gin.Context) service.Caller {
	auth := gateway.GetAuthContext(c)
	if auth == nil {
		return service.Caller{}
	}
	caller := service.Caller{
		ClientRoles:         auth.ClientRoles,
		ClientAuthenticated: auth.Authenticated,
	}
	if auth.User != nil {
		caller.SessionID = auth.User.SessionID
		caller.UserID = auth.User.UserID
		caller.UserRoles = auth.User.Roles
	}
	return caller
}
