package audit

import (
	"context"

	"github.com/dropspot/drop-service/internal/domain"
	appctx "github.com/dropspot/drop-service/internal/pkg/context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for business events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// WaitlistJoined logs when a user enters a drop's waitlist
func (l *Logger) WaitlistJoined(ctx context.Context, dropID, userID uuid.UUID, score int) {
	l.log.Info().
		Str("action", "waitlist_joined").
		Str("drop_id", dropID.String()).
		Str("user_id", userID.String()).
		Int("priority_score", score).
		Str("trace_id", getTraceID(ctx)).
		Msg("User joined waitlist")
}

// WaitlistLeft logs when a user withdraws from a drop's waitlist
func (l *Logger) WaitlistLeft(ctx context.Context, dropID, userID uuid.UUID) {
	l.log.Info().
		Str("action", "waitlist_left").
		Str("drop_id", dropID.String()).
		Str("user_id", userID.String()).
		Str("trace_id", getTraceID(ctx)).
		Msg("User left waitlist")
}

// ClaimAdmitted logs a successful allocation
func (l *Logger) ClaimAdmitted(ctx context.Context, dropID, userID uuid.UUID, claimCode string, rank, availableStock int) {
	l.log.Info().
		Str("action", "claim_admitted").
		Str("drop_id", dropID.String()).
		Str("user_id", userID.String()).
		Str("claim_code", claimCode).
		Int("rank", rank).
		Int("available_stock", availableStock).
		Str("trace_id", getTraceID(ctx)).
		Msg("Claim admitted")
}

// ClaimRejected logs a refused claim attempt with its reason
func (l *Logger) ClaimRejected(ctx context.Context, dropID, userID uuid.UUID, reason domain.RejectReason, rank, availableStock int) {
	l.log.Info().
		Str("action", "claim_rejected").
		Str("drop_id", dropID.String()).
		Str("user_id", userID.String()).
		Str("reason", string(reason)).
		Int("rank", rank).
		Int("available_stock", availableStock).
		Str("trace_id", getTraceID(ctx)).
		Msg("Claim rejected")
}

// DropCreated logs an admin creating a drop
func (l *Logger) DropCreated(ctx context.Context, dropID, actorID uuid.UUID, totalStock int) {
	l.log.Info().
		Str("action", "drop_created").
		Str("drop_id", dropID.String()).
		Str("actor_user_id", actorID.String()).
		Int("total_stock", totalStock).
		Str("trace_id", getTraceID(ctx)).
		Msg("Drop created")
}

// DropUpdated logs an admin editing a drop
func (l *Logger) DropUpdated(ctx context.Context, dropID, actorID uuid.UUID) {
	l.log.Info().
		Str("action", "drop_updated").
		Str("drop_id", dropID.String()).
		Str("actor_user_id", actorID.String()).
		Str("trace_id", getTraceID(ctx)).
		Msg("Drop updated")
}

// DropDeleted logs an admin removing a drop and its dependents
func (l *Logger) DropDeleted(ctx context.Context, dropID, actorID uuid.UUID) {
	l.log.Warn().
		Str("action", "drop_deleted").
		Str("drop_id", dropID.String()).
		Str("actor_user_id", actorID.String()).
		Str("trace_id", getTraceID(ctx)).
		Msg("Drop deleted")
}

// getTraceID extracts the request ID from context if available
func getTraceID(ctx context.Context) string {
	return appctx.GetRequestID(ctx)
}
