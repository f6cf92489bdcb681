package learner

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/parlance-app/backend/internal/api/safe"
	"github.com/parlance-app/backend/internal/auth"
	"github.com/parlance-app/backend/internal/storage"
	"github.com/parlance-app/backend/internal/store"
	"github.com/parlance-app/backend/internal/transcript"
)

const (
	userKey           = "learner.user"
	defaultAttempts   = 20
	maxAttempts       = 100
	maxDisplayName    = 80
	maxTimestamps     = 1000
	multipartOverhead = 1 << 20
)

// Profiles is the subset of the store the learner routes need.
type Profiles interface {
	UpsertUserBySubject(ctx context.Context, subject, email, displayName string) (*store.User, error)
	UpdateDisplayName(ctx context.Context, id uuid.UUID, name string) (*store.User, error)
	CreateAttempt(ctx context.Context, in store.NewAttempt) (*store.Attempt, error)
	ListAttempts(ctx context.Context, userID uuid.UUID, limit int) ([]store.Attempt, error)
}

// Recordings stores uploaded audio.
type Recordings interface {
	PutRecording(ctx context.Context, userID string, r io.Reader, size int64) (*storage.Recording, error)
	PresignDownload(ctx context.Context, key string) (*url.URL, error)
	MaxRecordingBytes() int64
}

// Handlers serves the learner API.
type Handlers struct {
	profiles   Profiles
	recordings Recordings
	policy     *bluemonday.Policy
}

// New creates the handlers. recordings may be nil, in which case uploads
// answer 503.
func New(profiles Profiles, recordings Recordings) *Handlers {
	return &Handlers{
		profiles:   profiles,
		recordings: recordings,
		policy:     bluemonday.StrictPolicy(),
	}
}

// Register mounts every route under /api. All of them need a session.
func (h *Handlers) Register(r *safe.Router) {
	api := r.Group("/api", auth.RequireAuth(), safe.Handle(h.loadUser))

	api.GET("/me", h.Me)
	api.PATCH("/me", h.UpdateMe)

	api.GET("/practice", h.ListPractice)
	api.POST("/practice", h.CreatePractice)

	api.POST("/recordings", h.UploadRecording)

	api.POST("/transcript/active-word", h.ActiveWord)
}

// loadUser links the session to an application account, creating it on
// first use.
func (h *Handlers) loadUser(c *gin.Context) error {
	if h.profiles == nil {
		return safe.Abort(c, http.StatusServiceUnavailable, "user store is not configured")
	}

	id, _ := auth.IdentityFrom(c)
	user, err := h.profiles.UpsertUserBySubject(c.Request.Context(), id.Subject, id.Email, h.sanitize(id.Name))
	if err != nil {
		return err
	}

	c.Set(userKey, user)
	c.Next()
	return nil
}

func currentUser(c *gin.Context) *store.User {
	return c.MustGet(userKey).(*store.User)
}

// Me returns the caller's profile.
func (h *Handlers) Me(c *gin.Context) error {
	c.JSON(http.StatusOK, currentUser(c))
	return nil
}

type updateMeRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

// UpdateMe changes the caller's display name. Markup is stripped.
func (h *Handlers) UpdateMe(c *gin.Context) error {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return safe.BadRequest(c, "displayName is required")
	}

	name := h.sanitize(req.DisplayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayName {
		return safe.BadRequest(c, "displayName must be between 1 and 80 characters")
	}

	user, err := h.profiles.UpdateDisplayName(c.Request.Context(), currentUser(c).ID, name)
	if err != nil {
		return err
	}

	c.JSON(http.StatusOK, user)
	return nil
}

// ListPractice returns the caller's latest attempts.
func (h *Handlers) ListPractice(c *gin.Context) error {
	limit := defaultAttempts
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAttempts {
			return safe.BadRequest(c, "limit must be between 1 and 100")
		}
		limit = n
	}

	attempts, err := h.profiles.ListAttempts(c.Request.Context(), currentUser(c).ID, limit)
	if err != nil {
		return err
	}

	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
	return nil
}

type createPracticeRequest struct {
	Phrase       string   `json:"phrase" binding:"required,max=500"`
	Score        *float32 `json:"score" binding:"omitempty,gte=0,lte=100"`
	RecordingKey *string  `json:"recordingKey"`
}

// CreatePractice records an attempt. A recording key must be one of the
// caller's own uploads.
func (h *Handlers) CreatePractice(c *gin.Context) error {
	var req createPracticeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return safe.BadRequest(c, "phrase is required and score must be between 0 and 100")
	}

	user := currentUser(c)
	if req.RecordingKey != nil && !strings.HasPrefix(*req.RecordingKey, storage.RecordingPrefix(user.ID.String())) {
		return safe.BadRequest(c, "recordingKey does not belong to this user")
	}

	attempt, err := h.profiles.CreateAttempt(c.Request.Context(), store.NewAttempt{
		UserID:       user.ID,
		Phrase:       strings.TrimSpace(req.Phrase),
		Score:        req.Score,
		RecordingKey: req.RecordingKey,
	})
	if errors.Is(err, store.ErrNotFound) {
		return safe.NotFound(c, "user not found")
	}
	if err != nil {
		return err
	}

	c.JSON(http.StatusCreated, attempt)
	return nil
}

// UploadRecording stores the multipart field "file" and returns a
// short-lived link to it.
func (h *Handlers) UploadRecording(c *gin.Context) error {
	if h.recordings == nil {
		return safe.Abort(c, http.StatusServiceUnavailable, "recordings are not configured")
	}

	limit := h.recordings.MaxRecordingBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return safe.Abort(c, http.StatusRequestEntityTooLarge, "recording too large")
		}
		return safe.BadRequest(c, "multipart field \"file\" is required")
	}
	if fh.Size > limit {
		return safe.Abort(c, http.StatusRequestEntityTooLarge, "recording too large")
	}

	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := c.Request.Context()
	rec, err := h.recordings.PutRecording(ctx, currentUser(c).ID.String(), f, fh.Size)
	if errors.Is(err, storage.ErrUnsupportedMedia) {
		return safe.Abort(c, http.StatusUnsupportedMediaType, "recording must be audio")
	}
	if err != nil {
		return err
	}

	link, err := h.recordings.PresignDownload(ctx, rec.Key)
	if err != nil {
		return err
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":         rec.Key,
		"contentType": rec.ContentType,
		"size":        rec.Size,
		"url":         link.String(),
	})
	return nil
}

type activeWordRequest struct {
	Words []transcript.Word `json:"words" binding:"required"`
	Times []float64         `json:"times" binding:"required"`
}

// ActiveWord maps playback times to the index of the word being spoken.
func (h *Handlers) ActiveWord(c *gin.Context) error {
	var req activeWordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return safe.BadRequest(c, "words and times are required")
	}
	if len(req.Times) > maxTimestamps {
		return safe.BadRequest(c, "too many timestamps")
	}
	if err := transcript.Validate(req.Words); err != nil {
		return safe.BadRequest(c, "words must be ordered by start time")
	}

	c.JSON(http.StatusOK, gin.H{
		"indices": transcript.ActiveWordIndices(req.Words, req.Times),
	})
	return nil
}

func (h *Handlers) sanitize(s string) string {
	return strings.TrimSpace(h.policy.Sanitize(s))
}
