package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parlance-app/backend/internal/api/safe"
	"github.com/parlance-app/backend/internal/auth"
	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/stats"
	"github.com/parlance-app/backend/internal/storage"
	"github.com/parlance-app/backend/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	adminKey        = "admin.user"
)

// Users is the subset of the store the admin routes need.
type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (*store.User, error)
	GetUserBySubject(ctx context.Context, subject string) (*store.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]store.User, error)
	UpdateUserRole(ctx context.Context, id uuid.UUID, role string) (*store.User, error)
}

// Stats computes the internal dashboard summary.
type Stats interface {
	Summary(ctx context.Context, from, to time.Time) (*stats.Summary, error)
}

// Invalidator drops cached secondary-store results for a table.
type Invalidator interface {
	Invalidate(ctx context.Context, table string) error
}

// Uploads presigns direct-to-bucket uploads.
type Uploads interface {
	PresignUpload(ctx context.Context, key string) (*url.URL, error)
}

// Options are the collaborators of the admin routes. Every field except
// Users may be nil; the matching endpoints then answer 503.
type Options struct {
	Users      Users
	Stats      Stats
	Cache      Invalidator
	StatsTable string
	Uploads    Uploads
	Logger     *logging.Logger
	// Now is used for default date windows.
	Now func() time.Time
}

// Handlers serves the admin API.
type Handlers struct {
	opts   Options
	logger *logging.Logger
}

// New creates the handlers.
func New(opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handlers{opts: opts, logger: opts.Logger.Named("admin")}
}

// Register mounts every route under /api behind the admin check.
func (h *Handlers) Register(r *safe.Router) {
	api := r.Group("/api", safe.Handle(h.requireAdmin))

	api.GET("/users", h.ListUsers)
	api.GET("/users/:id", h.GetUser)
	api.PATCH("/users/:id", h.UpdateUser)

	api.GET("/internal-stats", h.InternalStats)
	api.POST("/internal-stats/refresh", h.RefreshStats)

	api.POST("/uploads/sign", h.SignUpload)
}

func (h *Handlers) requireAdmin(c *gin.Context) error {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		return safe.Abort(c, http.StatusUnauthorized, "authentication required")
	}
	if h.opts.Users == nil {
		return unavailable(c, "user store")
	}

	user, err := h.opts.Users.GetUserBySubject(c.Request.Context(), id.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return safe.Abort(c, http.StatusForbidden, "admin access required")
	}
	if err != nil {
		return fmt.Errorf("load admin %s: %w", id.Subject, err)
	}
	if user.Role != store.RoleAdmin {
		return safe.Abort(c, http.StatusForbidden, "admin access required")
	}

	c.Set(adminKey, user)
	c.Next()
	return nil
}

func currentAdmin(c *gin.Context) *store.User {
	if u, ok := c.Get(adminKey); ok {
		if user, ok := u.(*store.User); ok {
			return user
		}
	}
	return &store.User{}
}

// ListUsers returns one page of users.
func (h *Handlers) ListUsers(c *gin.Context) error {
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		return safe.BadRequest(c, fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return safe.BadRequest(c, "offset must be a non-negative integer")
	}

	users, err := h.opts.Users.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		return err
	}

	c.JSON(http.StatusOK, gin.H{
		"users":  users,
		"limit":  limit,
		"offset": offset,
	})
	return nil
}

// GetUser returns one user.
func (h *Handlers) GetUser(c *gin.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return safe.BadRequest(c, "invalid user id")
	}

	user, err := h.opts.Users.GetUser(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return safe.NotFound(c, "user not found")
	}
	if err != nil {
		return err
	}

	c.JSON(http.StatusOK, user)
	return nil
}

type updateUserRequest struct {
	Role string `json:"role" binding:"required,oneof=learner admin"`
}

// UpdateUser changes a user's role. Admins cannot demote themselves.
func (h *Handlers) UpdateUser(c *gin.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return safe.BadRequest(c, "invalid user id")
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return safe.BadRequest(c, "role must be one of learner, admin")
	}

	self := currentAdmin(c)
	if self.ID == id && req.Role != store.RoleAdmin {
		return safe.BadRequest(c, "cannot remove your own admin role")
	}

	user, err := h.opts.Users.UpdateUserRole(c.Request.Context(), id, req.Role)
	if errors.Is(err, store.ErrNotFound) {
		return safe.NotFound(c, "user not found")
	}
	if err != nil {
		return err
	}

	h.logger.Info("role changed",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role),
		zap.String("by", self.AuthSubject),
	)
	c.JSON(http.StatusOK, user)
	return nil
}

// InternalStats summarises the secondary store over a date window.
func (h *Handlers) InternalStats(c *gin.Context) error {
	if h.opts.Stats == nil {
		return unavailable(c, "internal stats")
	}

	from, to, err := stats.ParseWindow(c.Query("from"), c.Query("to"), h.opts.Now())
	if err != nil {
		return safe.BadRequest(c, err.Error())
	}

	summary, err := h.opts.Stats.Summary(c.Request.Context(), from, to)
	if err != nil {
		return err
	}

	c.JSON(http.StatusOK, summary)
	return nil
}

// RefreshStats drops cached records so the next summary reads fresh data.
func (h *Handlers) RefreshStats(c *gin.Context) error {
	if h.opts.Cache == nil {
		return unavailable(c, "internal stats")
	}

	if err := h.opts.Cache.Invalidate(c.Request.Context(), h.opts.StatsTable); err != nil {
		return err
	}

	c.JSON(http.StatusOK, gin.H{"invalidated": h.opts.StatsTable})
	return nil
}

type signUploadRequest struct {
	Filename string `json:"filename" binding:"required,max=255"`
}

// SignUpload returns a presigned PUT URL for a new object.
func (h *Handlers) SignUpload(c *gin.Context) error {
	if h.opts.Uploads == nil {
		return unavailable(c, "uploads")
	}

	var req signUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return safe.BadRequest(c, "filename is required")
	}

	key := storage.UploadKey(req.Filename)
	u, err := h.opts.Uploads.PresignUpload(c.Request.Context(), key)
	if err != nil {
		return err
	}

	c.JSON(http.StatusOK, gin.H{
		"key":    key,
		"url":    u.String(),
		"method": http.MethodPut,
	})
	return nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func unavailable(c *gin.Context, what string) error {
	return safe.Abort(c, http.StatusServiceUnavailable, what+" is not configured")
}
