package httpapi

import (
	"net/http"

	"negotiator/internal/voice"
	"negotiator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Call monitoring passthroughs. All of them answer 400 when no provider is
// configured.

func (h Handlers) requireVoice(c *gin.Context) bool {
	if h.Voice == nil {
		writeError(c, voice.ErrNotConfigured, "")
		return false
	}
	return true
}

func (h Handlers) PhoneNumbers(c *gin.Context) {
	if !h.requireVoice(c) {
		return
	}
	nums, err := h.Voice.ListPhoneNumbers(c.Request.Context())
	if err != nil {
		writeError(c, err, "Failed to get phone numbers")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "phoneNumbers": nums})
}

func (h Handlers) ListCalls(c *gin.Context) {
	if !h.requireVoice(c) {
		return
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}
	calls, err := h.Voice.ListCalls(c.Request.Context(), voice.ListCallsRequest{Limit: limit, Offset: offset})
	if err != nil {
		writeError(c, err, "Failed to get calls")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "calls": calls, "total": len(calls)})
}

// GetCall returns the call with its recording. A recording failure degrades
// to null rather than failing the request.
func (h Handlers) GetCall(c *gin.Context) {
	if !h.requireVoice(c) {
		return
	}
	ctx := c.Request.Context()
	callID := c.Param("callId")
	call, err := h.Voice.GetCall(ctx, callID)
	if err != nil {
		writeError(c, err, "Failed to get call details")
		return
	}
	var recording *voice.Recording
	rec, err := h.Voice.GetRecording(ctx, callID)
	switch {
	case err != nil:
		logger.FromGin(c).Warn("call recording lookup failed", "call_id", callID, "err", err)
	case rec.Available():
		recording = &rec
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "call": call, "recording": recording})
}

func (h Handlers) GetTranscript(c *gin.Context) {
	if !h.requireVoice(c) {
		return
	}
	tx, err := h.Voice.GetTranscript(c.Request.Context(), c.Param("callId"))
	if err != nil {
		writeError(c, err, "Failed to get call transcript")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcript": tx})
}

func (h Handlers) GetEvents(c *gin.Context) {
	if !h.requireVoice(c) {
		return
	}
	events, err := h.Voice.GetEvents(c.Request.Context(), c.Param("callId"))
	if err != nil {
		writeError(c, err, "Failed to get call events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "events": events})
}

func (h Handlers) EndCall(c *gin.Context) {
	if !h.requireVoice(c) {
		return
	}
	if err := h.Voice.EndCall(c.Request.Context(), c.Param("callId")); err != nil {
		writeError(c, err, "Failed to end call")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Call ended"})
}
