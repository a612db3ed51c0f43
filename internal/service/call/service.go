package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/audit"
	apperrors "callsignal-backend/pkg/errors"
	"callsignal-backend/pkg/jwt"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
	"callsignal-backend/pkg/pagination"
)

// End reasons, used as metric labels and in logs
const (
	ReasonHangup      = "hangup"
	ReasonDeclined    = "declined"
	ReasonLeft        = "left"
	ReasonBusy        = "busy"
	ReasonRingTimeout = "ring_timeout"
	ReasonStale       = "stale"
)

var errNotParticipant = errors.New("user is not a participant of this call")

// Service owns the call state machine and orchestrates the store, the
// credential issuer and the notifier around it
type Service struct {
	store    Store
	members  MemberDirectory
	users    UserDirectory
	issuer   CredentialIssuer
	notifier Notifier
	audit    AuditLogger

	now              func() time.Time
	tokenTTL         time.Duration
	mediaURL         string
	sweepBatch       int
	sweepParallelism int
	validate         *validator.Validate
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenTTL sets the lifetime of media credentials
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithAuditLogger records call actions to l
func WithAuditLogger(l AuditLogger) Option {
	return func(s *Service) { s.audit = l }
}

// WithMediaURL is returned to clients next to their credential
func WithMediaURL(url string) Option {
	return func(s *Service) { s.mediaURL = url }
}

// WithSweepLimits bounds how many calls one sweep round loads and how many it
// terminates concurrently
func WithSweepLimits(batch, parallelism int) Option {
	return func(s *Service) {
		if batch > 0 {
			s.sweepBatch = batch
		}
		if parallelism > 0 {
			s.sweepParallelism = parallelism
		}
	}
}

// NewService creates a new call service
func NewService(store Store, members MemberDirectory, users UserDirectory, issuer CredentialIssuer, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:            store,
		members:          members,
		users:            users,
		issuer:           issuer,
		notifier:         notifier,
		now:              time.Now,
		tokenTTL:         jwt.DefaultMediaTokenTTL,
		sweepBatch:       200,
		sweepParallelism: 8,
		validate:         validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Credentials let a participant connect to the call's media room
type Credentials struct {
	Token     string    `json:"token"`
	URL       string    `json:"url,omitempty"`
	RoomID    string    `json:"room_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InitiateCallInput contains call initiation data
type InitiateCallInput struct {
	ConversationID uuid.UUID       `validate:"required"`
	CallerID       uuid.UUID       `validate:"required"`
	CallType       domain.CallType `validate:"required,oneof=audio video"`
}

// InitiateCallOutput is the new call and the caller's credential. Credentials
// is nil when minting failed or nobody could be rung.
type InitiateCallOutput struct {
	Call         *domain.Call              `json:"call"`
	Participants []*domain.CallParticipant `json:"participants"`
	Credentials  *Credentials              `json:"credentials,omitempty"`
}

// JoinCallOutput is the joined call and a fresh credential
type JoinCallOutput struct {
	Call          *domain.Call            `json:"call"`
	Participant   *domain.CallParticipant `json:"participant"`
	AlreadyJoined bool                    `json:"already_joined"`
	Credentials   *Credentials            `json:"credentials,omitempty"`
}

// EndCallOutput reports the ended call. AlreadyEnded is set when the call had
// ended before this request.
type EndCallOutput struct {
	Call         *domain.Call `json:"call"`
	AlreadyEnded bool         `json:"already_ended"`
}

// UpdateParticipantInput carries media flag changes. Nil leaves a flag as it is.
type UpdateParticipantInput struct {
	CallID         uuid.UUID `validate:"required"`
	UserID         uuid.UUID `validate:"required"`
	IsMuted        *bool
	IsVideoEnabled *bool
}

// CallDetails is a call with all of its participants
type CallDetails struct {
	Call         *domain.Call              `json:"call"`
	Participants []*domain.CallParticipant `json:"participants"`
}

// CallHistoryPage is one page of a user's calls, newest first
type CallHistoryPage struct {
	Calls    []*domain.Call `json:"calls"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	HasMore  bool           `json:"has_more"`
}

// InitiateCall starts ringing every other active member of the conversation
func (s *Service) InitiateCall(ctx context.Context, input *InitiateCallInput) (out *InitiateCallOutput, err error) {
	defer s.observe("initiate", &err)

	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}

	members, err := s.members.GetActiveMembers(ctx, input.ConversationID)
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("failed to get conversation members: %w", err))
	}
	if len(members) == 0 {
		return nil, apperrors.NotFoundError("Conversation")
	}

	callees := make([]uuid.UUID, 0, len(members))
	callerIsMember := false
	seen := make(map[uuid.UUID]bool, len(members))
	for _, m := range members {
		if seen[m] {
			continue
		}
		seen[m] = true
		if m == input.CallerID {
			callerIsMember = true
			continue
		}
		callees = append(callees, m)
	}
	if !callerIsMember {
		return nil, apperrors.AccessDeniedError("Not a member of this conversation")
	}
	if len(callees) == 0 {
		return nil, apperrors.ValidationError("Conversation has no one else to call")
	}

	busy, err := s.store.ListBusyUsers(ctx, callees)
	if err != nil {
		// busy detection is advisory; ring everyone rather than fail the call
		logger.FromContext(ctx).Warn("Failed to check busy users", zap.Error(err))
	}

	now := s.now()
	callID := uuid.New()
	call := &domain.Call{
		CallID:         callID,
		ConversationID: input.ConversationID,
		CallerID:       input.CallerID,
		RoomID:         domain.RoomForCall(callID),
		CallType:       input.CallType,
		Status:         domain.CallStatusRinging,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	video := input.CallType == domain.CallTypeVideo
	joined := now
	participants := []*domain.CallParticipant{{
		CallID:         callID,
		UserID:         input.CallerID,
		Status:         domain.ParticipantOngoing,
		InvitedAt:      now,
		JoinedAt:       &joined,
		IsVideoEnabled: video,
	}}
	var ringing []uuid.UUID
	for _, id := range callees {
		status := domain.ParticipantRinging
		if busy[id] {
			status = domain.ParticipantBusy
		} else {
			ringing = append(ringing, id)
		}
		participants = append(participants, &domain.CallParticipant{
			CallID:         callID,
			UserID:         id,
			Status:         status,
			InvitedAt:      now,
			IsVideoEnabled: video,
		})
	}

	if err := s.store.Create(ctx, call, participants); err != nil {
		return nil, storeError(err)
	}

	metrics.CallsInitiatedTotal.WithLabelValues(string(call.CallType)).Inc()
	logger.FromContext(ctx).Info("Call initiated",
		zap.String("call_id", callID.String()),
		zap.String("conversation_id", call.ConversationID.String()),
		zap.String("caller_id", call.CallerID.String()),
		zap.String("call_type", string(call.CallType)),
		zap.Int("ringing", len(ringing)))
	s.record(ctx, audit.CallEvent(audit.EventCallInitiate, &input.CallerID, callID, string(call.CallType)))

	if len(ringing) == 0 {
		// everyone else is on another call
		t, err := s.mutate(ctx, callID, func(cs *domain.CallSession) error {
			cs.End(now)
			return nil
		})
		if err != nil {
			return nil, storeError(err)
		}
		s.afterEnd(ctx, t, &input.CallerID, ReasonBusy)
		s.notifier.NotifyMissed(ctx, t.session.Call, s.displayName(ctx, input.CallerID), callees)
		return &InitiateCallOutput{Call: t.session.Call, Participants: t.session.Participants}, nil
	}

	callerName := s.displayName(ctx, input.CallerID)
	s.notifier.NotifyIncoming(ctx, call, callerName, ringing)

	out = &InitiateCallOutput{Call: call, Participants: participants}
	creds, err := s.mint(input.CallerID, callerName, call.RoomID)
	if err != nil {
		return out, apperrors.DependencyError("Credential issuer", err)
	}
	out.Credentials = creds
	return out, nil
}

// JoinCall puts userID into a ringing or ongoing call and returns a fresh
// credential. Joining twice is a no-op success.
func (s *Service) JoinCall(ctx context.Context, callID, userID uuid.UUID) (out *JoinCallOutput, err error) {
	defer s.observe("join", &err)

	if callID == uuid.Nil || userID == uuid.Nil {
		return nil, apperrors.ValidationError("call_id and user_id are required")
	}

	call, err := s.store.GetByID(ctx, callID)
	if err != nil {
		return nil, storeError(err)
	}
	if call.Status.IsTerminal() {
		return nil, apperrors.NotJoinableError()
	}
	if err := s.requireParticipantOrMember(ctx, call, userID); err != nil {
		return nil, err
	}

	now := s.now()
	var changed bool
	t, err := s.mutate(ctx, callID, func(cs *domain.CallSession) error {
		var err error
		changed, err = cs.Join(userID, now)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	session := t.session
	participant := session.Participant(userID)
	if changed {
		logger.FromContext(ctx).Info("Participant joined call",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()),
			zap.String("call_status", string(session.Call.Status)))
		s.notifier.NotifyParticipantUpdate(ctx, session.Call, participant, peers(session, userID))
		s.record(ctx, audit.CallEvent(audit.EventCallJoin, &userID, callID, ""))
	}

	out = &JoinCallOutput{
		Call:          session.Call,
		Participant:   participant,
		AlreadyJoined: !changed,
	}
	creds, err := s.mint(userID, s.displayName(ctx, userID), session.Call.RoomID)
	if err != nil {
		return out, apperrors.DependencyError("Credential issuer", err)
	}
	out.Credentials = creds
	return out, nil
}

// DeclineCall records that userID refused a ringing call. It returns false
// when the call is no longer ringing.
func (s *Service) DeclineCall(ctx context.Context, callID, userID uuid.UUID) (declined bool, err error) {
	defer s.observe("decline", &err)

	if callID == uuid.Nil || userID == uuid.Nil {
		return false, apperrors.ValidationError("call_id and user_id are required")
	}

	now := s.now()
	t, err := s.mutate(ctx, callID, func(cs *domain.CallSession) error {
		var err error
		declined, err = cs.Decline(userID, now)
		return err
	})
	if err != nil {
		return false, storeError(err)
	}

	if declined {
		logger.FromContext(ctx).Info("Participant declined call",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()))
		s.record(ctx, audit.CallEvent(audit.EventCallDecline, &userID, callID, ""))
	}

	switch {
	case t.ended:
		s.afterEnd(ctx, t, &userID, ReasonDeclined)
	case declined:
		s.notifier.NotifyParticipantUpdate(ctx, t.session.Call, t.session.Participant(userID), peers(t.session, userID))
	}
	return declined, nil
}

// EndCall terminates the call for everyone. Only participants may end a call.
// Ending an ended call succeeds with AlreadyEnded set and notifies nobody.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) (out *EndCallOutput, err error) {
	defer s.observe("end", &err)

	if callID == uuid.Nil || userID == uuid.Nil {
		return nil, apperrors.ValidationError("call_id and user_id are required")
	}

	now := s.now()
	t, err := s.mutate(ctx, callID, func(cs *domain.CallSession) error {
		if cs.Participant(userID) == nil {
			return errNotParticipant
		}
		cs.End(now)
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	if !t.ended {
		return &EndCallOutput{Call: t.session.Call, AlreadyEnded: true}, nil
	}

	s.afterEnd(ctx, t, &userID, ReasonHangup)
	return &EndCallOutput{Call: t.session.Call}, nil
}

// LeaveCall takes userID out of the call. The call ends once fewer than two
// participants remain connected and nobody is still ringing.
func (s *Service) LeaveCall(ctx context.Context, callID, userID uuid.UUID) (call *domain.Call, err error) {
	defer s.observe("leave", &err)

	if callID == uuid.Nil || userID == uuid.Nil {
		return nil, apperrors.ValidationError("call_id and user_id are required")
	}

	now := s.now()
	var left bool
	t, err := s.mutate(ctx, callID, func(cs *domain.CallSession) error {
		var err error
		left, err = cs.Leave(userID, now)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	if left {
		logger.FromContext(ctx).Info("Participant left call",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()))
		s.record(ctx, audit.CallEvent(audit.EventCallLeave, &userID, callID, ""))
	}

	switch {
	case t.ended:
		s.afterEnd(ctx, t, &userID, ReasonLeft)
	case left:
		s.notifier.NotifyParticipantUpdate(ctx, t.session.Call, t.session.Participant(userID), peers(t.session, userID))
	}
	return t.session.Call, nil
}

// AddParticipant invites userID into a live call on behalf of actorID, who
// must be taking part in it. It reports whether the user was rung; inviting
// someone already ringing or connected is a no-op success.
func (s *Service) AddParticipant(ctx context.Context, callID, actorID, userID uuid.UUID) (invited bool, err error) {
	defer s.observe("add_participant", &err)

	if callID == uuid.Nil || actorID == uuid.Nil || userID == uuid.Nil {
		return false, apperrors.ValidationError("call_id, actor and user_id are required")
	}

	call, err := s.store.GetByID(ctx, callID)
	if err != nil {
		return false, storeError(err)
	}
	if call.Status.IsTerminal() {
		return false, apperrors.NotJoinableError()
	}

	ok, err := s.members.IsMember(ctx, call.ConversationID, userID)
	if err != nil {
		return false, apperrors.DatabaseError(fmt.Errorf("failed to check membership: %w", err))
	}
	if !ok {
		return false, apperrors.ValidationError("User is not a member of this conversation")
	}

	now := s.now()
	t, err := s.mutate(ctx, callID, func(cs *domain.CallSession) error {
		actor := cs.Participant(actorID)
		if actor == nil || !actor.Status.IsActive() {
			return errNotParticipant
		}
		var err error
		invited, err = cs.Invite(userID, now)
		return err
	})
	if err != nil {
		return false, storeError(err)
	}

	if invited {
		logger.FromContext(ctx).Info("Participant invited to call",
			zap.String("call_id", callID.String()),
			zap.String("actor_id", actorID.String()),
			zap.String("user_id", userID.String()))
		s.notifier.NotifyIncoming(ctx, t.session.Call, s.displayName(ctx, actorID), []uuid.UUID{userID})
		s.notifier.NotifyParticipantUpdate(ctx, t.session.Call, t.session.Participant(userID), peers(t.session, userID))
		s.record(ctx, audit.CallEvent(audit.EventCallInvite, &actorID, callID, userID.String()))
	}
	return invited, nil
}

// UpdateParticipantStatus changes a participant's mute and video flags. It
// reports whether anything changed.
func (s *Service) UpdateParticipantStatus(ctx context.Context, input *UpdateParticipantInput) (changed bool, err error) {
	defer s.observe("update_participant", &err)

	if err := s.validate.Struct(input); err != nil {
		return false, validationError(err)
	}
	if input.IsMuted == nil && input.IsVideoEnabled == nil {
		return false, apperrors.ValidationError("is_muted or is_video_enabled is required")
	}

	t, err := s.mutate(ctx, input.CallID, func(cs *domain.CallSession) error {
		var err error
		changed, err = cs.UpdateMedia(input.UserID, input.IsMuted, input.IsVideoEnabled)
		return err
	})
	if err != nil {
		return false, storeError(err)
	}

	if changed {
		s.notifier.NotifyParticipantUpdate(ctx, t.session.Call, t.session.Participant(input.UserID), peers(t.session, input.UserID))
	}
	return changed, nil
}

// GetActiveCall returns the ringing or ongoing call of a conversation, or nil
func (s *Service) GetActiveCall(ctx context.Context, conversationID uuid.UUID) (*domain.Call, error) {
	if conversationID == uuid.Nil {
		return nil, apperrors.ValidationError("conversation_id is required")
	}

	call, err := s.store.GetActiveByConversation(ctx, conversationID)
	if errors.Is(err, domain.ErrCallNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	return call, nil
}

// GetCall returns a call with its participants. The requester must be a
// participant or a member of the call's conversation.
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*CallDetails, error) {
	call, err := s.store.GetByID(ctx, callID)
	if err != nil {
		return nil, storeError(err)
	}

	participants, err := s.store.GetParticipants(ctx, callID)
	if err != nil {
		return nil, storeError(err)
	}

	if !hasParticipant(participants, userID) {
		ok, err := s.members.IsMember(ctx, call.ConversationID, userID)
		if err != nil {
			return nil, apperrors.DatabaseError(fmt.Errorf("failed to check membership: %w", err))
		}
		if !ok {
			return nil, apperrors.AccessDeniedError("Not a member of this conversation")
		}
	}

	return &CallDetails{Call: call, Participants: participants}, nil
}

// GetCallHistory returns one page of the calls userID took part in
func (s *Service) GetCallHistory(ctx context.Context, userID uuid.UUID, page, pageSize int) (*CallHistoryPage, error) {
	p := pagination.Normalize(page, pageSize)
	if err := p.Validate(); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}

	// fetch one extra row to learn whether another page exists
	calls, err := s.store.GetUserCalls(ctx, userID, p.PageSize+1, p.Offset())
	if err != nil {
		return nil, storeError(err)
	}

	hasMore := len(calls) > p.PageSize
	if hasMore {
		calls = calls[:p.PageSize]
	}
	return &CallHistoryPage{
		Calls:    calls,
		Page:     p.Page,
		PageSize: p.PageSize,
		HasMore:  hasMore,
	}, nil
}

// transition is the outcome of one committed mutation
type transition struct {
	session *domain.CallSession
	// ended is set when this mutation moved the call to Ended
	ended bool
	// missed lists participants this mutation cascaded from Ringing to Missed
	missed []uuid.UUID
}

func (s *Service) mutate(ctx context.Context, callID uuid.UUID, op func(*domain.CallSession) error) (*transition, error) {
	var t transition
	session, err := s.store.Mutate(ctx, callID, func(cs *domain.CallSession) error {
		// the store may retry, so start from scratch each time
		t = transition{}
		wasActive := cs.Call.Status.IsActive()
		ringing := cs.UserIDs(domain.ParticipantRinging)

		if err := op(cs); err != nil {
			return err
		}

		if wasActive && cs.Call.Status.IsTerminal() {
			t.ended = true
			for _, id := range ringing {
				if p := cs.Participant(id); p != nil && p.Status == domain.ParticipantMissed {
					t.missed = append(t.missed, id)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.session = session
	return &t, nil
}

// afterEnd runs the side effects of a call reaching Ended. actorID is nil
// when the reaper ended the call.
func (s *Service) afterEnd(ctx context.Context, t *transition, actorID *uuid.UUID, reason string) {
	call := t.session.Call

	metrics.CallsEndedTotal.WithLabelValues(string(call.CallType), reason).Inc()
	duration := 0
	if call.Duration != nil {
		duration = *call.Duration
	}
	metrics.CallDuration.WithLabelValues(string(call.CallType)).Observe(float64(duration))

	logger.FromContext(ctx).Info("Call ended",
		zap.String("call_id", call.CallID.String()),
		zap.String("reason", reason),
		zap.Int("duration", duration),
		zap.Int("missed", len(t.missed)))

	var recipients []uuid.UUID
	for _, p := range t.session.Participants {
		if actorID != nil && p.UserID == *actorID {
			continue
		}
		recipients = append(recipients, p.UserID)
	}
	s.notifier.NotifyEnded(ctx, call, recipients)
	if len(t.missed) > 0 {
		s.notifier.NotifyMissed(ctx, call, s.displayName(ctx, call.CallerID), t.missed)
	}

	eventType := audit.EventCallEnd
	if actorID == nil {
		eventType = audit.EventCallReaped
	}
	s.record(ctx, audit.CallEvent(eventType, actorID, call.CallID,
		fmt.Sprintf("reason: %s, duration: %d seconds", reason, duration)))
}

func (s *Service) requireParticipantOrMember(ctx context.Context, call *domain.Call, userID uuid.UUID) error {
	participants, err := s.store.GetParticipants(ctx, call.CallID)
	if err != nil {
		return storeError(err)
	}
	if hasParticipant(participants, userID) {
		return nil
	}

	ok, err := s.members.IsMember(ctx, call.ConversationID, userID)
	if err != nil {
		return apperrors.DatabaseError(fmt.Errorf("failed to check membership: %w", err))
	}
	if !ok {
		return apperrors.AccessDeniedError("Not a member of this conversation")
	}
	return nil
}

func (s *Service) mint(userID uuid.UUID, displayName, room string) (*Credentials, error) {
	token, err := s.issuer.Mint(userID.String(), displayName, jwt.ParticipantGrant(room), s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &Credentials{
		Token:     token,
		URL:       s.mediaURL,
		RoomID:    room,
		ExpiresAt: s.now().Add(s.tokenTTL),
	}, nil
}

// displayName resolves a name for notifications and tokens. A lookup failure
// yields an empty name rather than failing the call.
func (s *Service) displayName(ctx context.Context, userID uuid.UUID) string {
	if s.users == nil {
		return ""
	}
	name, err := s.users.GetDisplayName(ctx, userID)
	if err != nil {
		logger.FromContext(ctx).Debug("Failed to resolve display name",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return ""
	}
	return name
}

func (s *Service) record(ctx context.Context, event *audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event); err != nil {
		logger.FromContext(ctx).Warn("Failed to write audit event",
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
	}
}

func (s *Service) observe(operation string, errp *error) {
	if *errp == nil {
		return
	}
	code := string(apperrors.GetAppError(*errp).Code)
	metrics.CallOperationFailuresTotal.WithLabelValues(operation, code).Inc()
}

// peers lists everyone still ringing or connected, except userID
func peers(session *domain.CallSession, userID uuid.UUID) []uuid.UUID {
	ids := session.UserIDs(domain.ParticipantRinging, domain.ParticipantOngoing)
	out := ids[:0]
	for _, id := range ids {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

func hasParticipant(participants []*domain.CallParticipant, userID uuid.UUID) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// storeError maps store and state machine errors onto API errors
func storeError(err error) error {
	switch {
	case errors.Is(err, domain.ErrCallNotFound):
		return apperrors.CallNotFoundError()
	case errors.Is(err, domain.ErrParticipantNotFound):
		return apperrors.ParticipantNotFoundError()
	case errors.Is(err, domain.ErrActiveCallExists):
		return apperrors.CallInProgressError()
	case errors.Is(err, domain.ErrCallNotJoinable):
		return apperrors.NotJoinableError()
	case errors.Is(err, errNotParticipant):
		return apperrors.AccessDeniedError("Not a participant of this call")
	case apperrors.IsAppError(err):
		return err
	default:
		return apperrors.DatabaseError(err)
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.ValidationError(err.Error())
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return apperrors.ValidationError("Invalid " + strings.Join(fields, ", ")).
		WithDetails(map[string]any{"fields": fields})
}
