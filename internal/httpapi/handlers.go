package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"negotiator/internal/auth"
	"negotiator/internal/evidence"
	"negotiator/internal/mock"
	"negotiator/internal/negotiation"
	"negotiator/internal/orchestrator"
	"negotiator/internal/rbac"
	"negotiator/internal/reporting"
	"negotiator/internal/voice"
	"negotiator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Negotiations *orchestrator.Service
	// Voice is nil when no provider is configured.
	Voice            voice.Gateway
	Evidence         evidence.Store
	MaxEvidenceBytes int64
	CSR              *mock.CSR
	Auth             *auth.Manager
	Reporting        *reporting.Service

	// Checks back the readiness endpoint, keyed by dependency name.
	Checks map[string]func(context.Context) error
}

const multipartOverhead = 1 << 20

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": h.Negotiations.Mode()})
}

const readinessTimeout = 2 * time.Second

// Ready runs every dependency check and answers 503 if any fails.
func (h Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.Checks))
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "check", name, "err", err)
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": results})
}

// --- Negotiations ---

type startRequest struct {
	PhoneNumber string `json:"phoneNumber" form:"phoneNumber"`
	Prompt      string `json:"prompt" form:"prompt"`
	OrderNumber string `json:"orderNumber" form:"orderNumber"`
	EvidenceRef string `json:"evidenceRef" form:"evidenceRef"`
}

func (r startRequest) toRequest(ownerID string) negotiation.Request {
	return negotiation.Request{
		OwnerID:         ownerID,
		PhoneNumber:     r.PhoneNumber,
		Prompt:          r.Prompt,
		ReferenceNumber: r.OrderNumber,
		EvidenceRef:     r.EvidenceRef,
	}
}

// Start accepts JSON or a multipart form with an optional "screenshot" file.
// The request is validated before the screenshot is stored, so rejected
// requests leave nothing behind.
func (h Handlers) Start(c *gin.Context) {
	ctx := c.Request.Context()
	var body startRequest
	var upload *evidence.Upload

	if isForm(c) {
		maxBytes := h.MaxEvidenceBytes
		if maxBytes <= 0 {
			maxBytes = evidence.DefaultMaxBytes
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
		if err := c.ShouldBind(&body); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeError(c, evidence.ErrTooLarge, "")
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		fh, err := c.FormFile("screenshot")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid screenshot upload"})
			return
		default:
			f, err := fh.Open()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid screenshot upload"})
				return
			}
			defer f.Close()
			upload = &evidence.Upload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Body:        f,
			}
		}
	} else if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	req := body.toRequest(auth.OwnerID(ctx))
	if upload != nil {
		check := req
		check.EvidenceRef = upload.Filename
		if err := check.Normalize().Validate(); err != nil {
			writeError(c, err, "")
			return
		}
		if h.Evidence == nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "evidence uploads are disabled"})
			return
		}
		if err := evidence.Check(*upload, h.MaxEvidenceBytes); err != nil {
			writeError(c, err, "")
			return
		}
		ref, err := h.Evidence.Save(ctx, *upload)
		if err != nil {
			writeError(c, err, "Failed to store screenshot")
			return
		}
		req.EvidenceRef = ref
	}

	n, err := h.Negotiations.CreateNegotiation(ctx, req)
	if err != nil {
		writeError(c, err, "Failed to start negotiation")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"negotiationId": n.ID,
		"status":        n.Status,
		"category":      n.Category,
		"message":       "Negotiation started successfully",
	})
}

func (h Handlers) Status(c *gin.Context) {
	v, err := h.Negotiations.GetNegotiation(c.Request.Context(), c.Param("negotiationId"))
	if err != nil {
		writeError(c, err, "Failed to load negotiation")
		return
	}
	c.JSON(http.StatusOK, v)
}

// Webhook receives negotiation results from the provider (or anyone holding
// the shared secret).
func (h Handlers) Webhook(c *gin.Context) {
	var p negotiation.WebhookPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ack, err := h.Negotiations.IngestWebhook(c.Request.Context(), p)
	if err != nil {
		writeError(c, err, "Failed to log results")
		return
	}
	c.JSON(http.StatusOK, ack)
}

type csrRequest struct {
	Message     string `json:"message"`
	OrderNumber string `json:"orderNumber"`
}

// MockCSR plays a canned customer-service representative.
func (h Handlers) MockCSR(c *gin.Context) {
	var req csrRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	c.JSON(http.StatusOK, h.CSR.Reply(req.Message, req.OrderNumber))
}

// ListNegotiations returns the caller's negotiations, newest first. Admins
// may pass ownerId.
func (h Handlers) ListNegotiations(c *gin.Context) {
	ownerID, ok := h.resolveOwner(c)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit <= 0 || limit > 200 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}
	list, err := h.Negotiations.ListNegotiations(c.Request.Context(), ownerID, limit)
	if err != nil {
		writeError(c, err, "Failed to list negotiations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "negotiations": list, "total": len(list)})
}

func (h Handlers) Summary(c *gin.Context) {
	ownerID, ok := h.resolveOwner(c)
	if !ok {
		return
	}
	var rng reporting.TimeRange
	for key, dst := range map[string]*time.Time{"from": &rng.From, "to": &rng.To} {
		raw := strings.TrimSpace(c.Query(key))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC3339"})
			return
		}
		*dst = t
	}
	out, err := h.Reporting.Summary(c.Request.Context(), reporting.SummaryRequest{
		OwnerID:  ownerID,
		Range:    rng,
		Category: c.Query("category"),
	})
	if err != nil {
		writeError(c, err, "Failed to build summary")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) resolveOwner(c *gin.Context) (string, bool) {
	ctx := c.Request.Context()
	callerID := auth.OwnerID(ctx)
	role, _ := auth.Role(ctx)
	ownerID := strings.TrimSpace(c.Query("ownerId"))
	if ownerID == "" {
		ownerID = callerID
	}
	if !rbac.CanReadOwner(role, callerID, ownerID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return ownerID, true
}

// --- Auth ---

type tokenRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Token issues a JWT token pair for a user id.
//
// NOTE: there is no credential store; any caller can obtain a user token.
// Admin tokens are only issued to callers already holding one.
func (h Handlers) Token(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.Role == "" {
		req.Role = rbac.RoleUser
	}
	if req.UserID == "" || !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "userId and a valid role required"})
		return
	}
	if rbac.IsAdmin(req.Role) {
		callerRole, _ := auth.Role(c.Request.Context())
		if !rbac.IsAdmin(callerRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	h.writePair(c, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refreshToken required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	h.writePair(c, pair)
}

func (h Handlers) writePair(c *gin.Context, pair auth.TokenPair) {
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    int(h.Auth.AccessTTL().Seconds()),
	})
}

func isForm(c *gin.Context) bool {
	ct := c.ContentType()
	return strings.HasPrefix(ct, "multipart/") || ct == "application/x-www-form-urlencoded"
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
