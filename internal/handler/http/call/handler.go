package call

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/middleware"
	callService "callsignal-backend/internal/service/call"
	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/pagination"
	"callsignal-backend/pkg/response"
)

// Service is the part of the call service the HTTP API exposes
type Service interface {
	InitiateCall(ctx context.Context, input *callService.InitiateCallInput) (*callService.InitiateCallOutput, error)
	JoinCall(ctx context.Context, callID, userID uuid.UUID) (*callService.JoinCallOutput, error)
	DeclineCall(ctx context.Context, callID, userID uuid.UUID) (bool, error)
	EndCall(ctx context.Context, callID, userID uuid.UUID) (*callService.EndCallOutput, error)
	LeaveCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error)
	AddParticipant(ctx context.Context, callID, actorID, userID uuid.UUID) (bool, error)
	UpdateParticipantStatus(ctx context.Context, input *callService.UpdateParticipantInput) (bool, error)
	GetActiveCall(ctx context.Context, conversationID uuid.UUID) (*domain.Call, error)
	GetCall(ctx context.Context, callID, userID uuid.UUID) (*callService.CallDetails, error)
	GetCallHistory(ctx context.Context, userID uuid.UUID, page, pageSize int) (*callService.CallHistoryPage, error)
}

// Sweeper runs one reaper pass
type Sweeper interface {
	Sweep(ctx context.Context) (callService.SweepResult, error)
}

// Handler handles call HTTP requests
type Handler struct {
	calls  Service
	reaper Sweeper
}

// NewHandler creates a new call handler. reaper may be nil, which disables
// the cleanup endpoint.
func NewHandler(calls Service, reaper Sweeper) *Handler {
	return &Handler{
		calls:  calls,
		reaper: reaper,
	}
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,uuid"`
	CallType       string `json:"call_type" binding:"required,oneof=audio video"`
}

// InitiateCallResponse is the new call. CredentialsError is set when the call
// was created but no media credential could be minted.
type InitiateCallResponse struct {
	*callService.InitiateCallOutput
	CredentialsError string `json:"credentials_error,omitempty"`
}

// InitiateCall starts a new call in a conversation
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	output, err := h.calls.InitiateCall(c.Request.Context(), &callService.InitiateCallInput{
		ConversationID: uuid.MustParse(req.ConversationID),
		CallerID:       callerID,
		CallType:       domain.CallType(req.CallType),
	})
	if err != nil && output == nil {
		response.FromError(c, err)
		return
	}

	res := InitiateCallResponse{InitiateCallOutput: output}
	if err != nil {
		// the call exists and is ringing; the caller can fetch a credential by joining
		logger.FromContext(c.Request.Context()).Warn("Call created without caller credential",
			zap.String("call_id", output.Call.CallID.String()),
			zap.Error(err))
		res.CredentialsError = apperrors.GetAppError(err).Message
	}
	response.Success(c, http.StatusCreated, res)
}

// JoinCallResponse reports the outcome of a join. Joined is false when the
// call had already ended.
type JoinCallResponse struct {
	Joined bool `json:"joined"`
	*callService.JoinCallOutput
	CredentialsError string `json:"credentials_error,omitempty"`
}

// JoinCall joins a ringing or ongoing call
// POST /v1/calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	output, err := h.calls.JoinCall(c.Request.Context(), callID, userID)
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeCallNotJoinable):
		response.Success(c, http.StatusOK, gin.H{
			"joined":  false,
			"call_id": callID,
			"reason":  apperrors.GetAppError(err).Message,
		})
		return
	case err != nil && output == nil:
		response.FromError(c, err)
		return
	}

	res := JoinCallResponse{Joined: true, JoinCallOutput: output}
	if err != nil {
		res.CredentialsError = apperrors.GetAppError(err).Message
	}
	response.Success(c, http.StatusOK, res)
}

// DeclineCall declines a ringing call
// POST /v1/calls/:id/decline
func (h *Handler) DeclineCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	declined, err := h.calls.DeclineCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"declined": declined,
		"call_id":  callID,
	})
}

// EndCall terminates a call for everyone
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	output, err := h.calls.EndCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, output)
}

// LeaveCall takes the caller out of a call
// POST /v1/calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	call, err := h.calls.LeaveCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"call": call})
}

// AddParticipantRequest names the user to invite
type AddParticipantRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// AddParticipant invites a conversation member into a live call
// POST /v1/calls/:id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	callID, actorID, ok := callAndUser(c)
	if !ok {
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	userID := uuid.MustParse(req.UserID)

	invited, err := h.calls.AddParticipant(c.Request.Context(), callID, actorID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"invited": invited,
		"call_id": callID,
		"user_id": userID,
	})
}

// UpdateParticipantRequest carries media flags. Omitted flags are unchanged.
type UpdateParticipantRequest struct {
	IsMuted        *bool `json:"is_muted"`
	IsVideoEnabled *bool `json:"is_video_enabled"`
}

// UpdateParticipantStatus changes the caller's mute and video flags
// PATCH /v1/calls/:id/participants/me
func (h *Handler) UpdateParticipantStatus(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	var req UpdateParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	changed, err := h.calls.UpdateParticipantStatus(c.Request.Context(), &callService.UpdateParticipantInput{
		CallID:         callID,
		UserID:         userID,
		IsMuted:        req.IsMuted,
		IsVideoEnabled: req.IsVideoEnabled,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"changed": changed})
}

// GetCall retrieves a call with its participants
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, userID, ok := callAndUser(c)
	if !ok {
		return
	}

	details, err := h.calls.GetCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, details)
}

// GetActiveCall returns the live call of a conversation, or null
// GET /v1/calls/active?conversation_id=
func (h *Handler) GetActiveCall(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		response.FromError(c, apperrors.InvalidInputError("Invalid conversation ID"))
		return
	}

	call, err := h.calls.GetActiveCall(c.Request.Context(), conversationID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"call": call})
}

// GetCallHistory lists the caller's calls, newest first
// GET /v1/calls/history?page=&page_size=
func (h *Handler) GetCallHistory(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	params, err := pagination.Parse(c.Query("page"), c.Query("page_size"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	history, err := h.calls.GetCallHistory(c.Request.Context(), userID, params.Page, params.PageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, history)
}

// Cleanup runs one reaper sweep on demand
// POST /v1/calls/cleanup (admin)
func (h *Handler) Cleanup(c *gin.Context) {
	if h.reaper == nil {
		response.FromError(c, apperrors.ServiceUnavailableError("Reaper is disabled"))
		return
	}

	result, err := h.reaper.Sweep(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// callAndUser reads the :id path parameter and the authenticated user,
// writing the error response itself when either is missing
func callAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.FromError(c, apperrors.InvalidInputError("Invalid call ID"))
		return uuid.Nil, uuid.Nil, false
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}
	return callID, userID, true
}
