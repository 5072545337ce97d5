package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"academy/internal/attendance"
	"academy/internal/auth"
	"academy/internal/checkin"
	"academy/internal/photos"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(*gin.Context) bool

// PhotoUploader stores a check-in photo and returns where the face service can fetch it.
type PhotoUploader interface {
	Upload(ctx context.Context, studentID, filename string, data []byte) (*photos.Photo, error)
}

// Handler serves the check-in API.
type Handler struct {
	svc    *attendance.Service
	issuer auth.Issuer
	orgID  string
	checks map[string]HealthCheck
	photos PhotoUploader

	provisionKey string
}

// New creates a handler. checks are reported by /healthz.
func New(svc *attendance.Service, issuer auth.Issuer, orgID string, checks map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, issuer: issuer, orgID: orgID, checks: checks}
}

// WithProvisioningKey sets the secret kiosks present in X-Provisioning-Key
// to register. Registration is refused while it is empty.
func (h *Handler) WithProvisioningKey(key string) *Handler {
	h.provisionKey = key
	return h
}

// WithPhotos enables the photo upload route.
func (h *Handler) WithPhotos(p PhotoUploader) *Handler {
	h.photos = p
	return h
}

// Register mounts the routes. limit guards the kiosk routes and may be nil.
func (h *Handler) Register(r *gin.Engine, limit gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)
	r.POST("/v1/kiosks/register", h.RegisterKiosk)
	r.POST("/v1/kiosks/refresh", h.RefreshKiosk)

	kiosk := r.Group("/v1", auth.RequireRole(h.issuer, auth.RoleKiosk))
	if limit != nil {
		kiosk.Use(limit)
	}
	kiosk.POST("/checkins", h.CheckIn)
	kiosk.POST("/checkins/photo", h.UploadPhoto)
	kiosk.GET("/students/:id/sessions/today", h.TodaySessions)
	kiosk.GET("/students/:id/attendance", h.History)
	kiosk.GET("/students/:id/pattern", h.Pattern)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Kiosks ----------

type registerKioskRequest struct {
	KioskID string `json:"kiosk_id" binding:"required"`
}

func (h *Handler) RegisterKiosk(c *gin.Context) {
	if h.provisionKey == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "kiosk provisioning disabled"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Provisioning-Key")), []byte(h.provisionKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid provisioning key"})
		return
	}

	var req registerKioskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RegisterKiosk(c.Request.Context(), req.KioskID); err != nil {
		log.Printf("register kiosk %s: %v", req.KioskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "kiosk registration failed"})
		return
	}
	h.issueTokens(c, req.KioskID, h.orgID, http.StatusCreated)
}

type refreshKioskRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshKiosk exchanges a refresh token for a new pair. Each refresh token
// works once.
func (h *Handler) RefreshKiosk(c *gin.Context) {
	var req refreshKioskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.issuer.ParseAs(req.RefreshToken, auth.TokenRefresh)
	if err != nil || claims.Role != auth.RoleKiosk {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err := h.svc.ConsumeRefreshToken(c.Request.Context(), claims.Subject, req.RefreshToken); err != nil {
		if errors.Is(err, attendance.ErrRefreshRevoked) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token revoked"})
			return
		}
		log.Printf("consume refresh token for %s: %v", claims.Subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.issueTokens(c, claims.Subject, claims.OrganizationID, http.StatusOK)
}

func (h *Handler) issueTokens(c *gin.Context, kioskID, orgID string, status int) {
	tokens, err := h.issuer.Issue(kioskID, auth.RoleKiosk, orgID, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.svc.SaveRefreshToken(c.Request.Context(), kioskID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		log.Printf("save refresh token for %s: %v", kioskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Check-in ----------

type checkInRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	Method    string `json:"method" binding:"omitempty,oneof=manual qr_code biometric kiosk"`
	ImageURL  string `json:"image_url" binding:"omitempty,url"`
}

func (h *Handler) CheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, _ := auth.FromContext(c)

	rec, err := h.svc.CheckIn(c.Request.Context(), attendance.Request{
		StudentID: req.StudentID,
		SessionID: req.SessionID,
		Method:    checkin.Method(req.Method),
		ImageURL:  req.ImageURL,
		KioskID:   claims.Subject,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attendance": rec})
}

const maxPhotoBytes = 5 << 20

// UploadPhoto accepts a multipart "file" plus "student_id" and returns the
// stored URL to pass as image_url on a biometric check-in.
func (h *Handler) UploadPhoto(c *gin.Context) {
	if h.photos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo storage not configured"})
		return
	}
	studentID := c.PostForm("student_id")
	file, header, err := c.Request.FormFile("file")
	if err != nil || studentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id and file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}
	if len(data) > maxPhotoBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo too large"})
		return
	}

	p, err := h.photos.Upload(c.Request.Context(), studentID, header.Filename, data)
	if err != nil {
		log.Printf("photo upload for %s failed: %v", studentID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "photo upload failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"image_url": p.SecureURL, "public_id": p.PublicID})
}

// writeError maps service errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var rej *checkin.Rejection
	switch {
	case errors.As(err, &rej):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": rej.Code(), "message": rej.Message})
	case errors.Is(err, checkin.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case errors.Is(err, attendance.ErrWriteConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "write_conflict", "message": err.Error()})
	case errors.Is(err, attendance.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrBiometricMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "biometric_mismatch"})
	default:
		log.Printf("check-in failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ---------- Students ----------

func (h *Handler) TodaySessions(c *gin.Context) {
	rows, err := h.svc.TodaySessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("today sessions for %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": rows})
}

func (h *Handler) History(c *gin.Context) {
	limit, offset := 50, 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil {
		offset = v
	}
	records, err := h.svc.History(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		log.Printf("attendance history for %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": records})
}

func (h *Handler) Pattern(c *gin.Context) {
	p, err := h.svc.Pattern(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("pattern for %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pattern not computed yet"})
		return
	}
	c.JSON(http.StatusOK, p)
}
