package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
)

// AuditLogger appends every purchase lifecycle event to the organizer-facing
// audit trail.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) logEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogTransaction(ctx context.Context, txn domain.Transaction) error {
	data := map[string]interface{}{
		"transaction_id":  txn.ID,
		"event_id":        txn.EventID,
		"ticket_tier_id":  txn.TicketTierID,
		"quantity":        txn.Quantity,
		"total_amount":    txn.TotalAmount,
		"discount_amount": txn.DiscountAmount,
		"points_used":     txn.PointsUsed,
		"status":          string(txn.Status),
	}
	return a.logEvent(ctx, "transaction.created", txn.UserID, data)
}

func (a *AuditLogger) LogStatusChange(ctx context.Context, txn domain.Transaction, from domain.TransactionStatus) error {
	data := map[string]interface{}{
		"transaction_id": txn.ID,
		"from":           string(from),
		"to":             string(txn.Status),
	}
	if txn.RejectionReason != "" {
		data["rejection_reason"] = txn.RejectionReason
	}
	return a.logEvent(ctx, "transaction.status_changed", txn.UserID, data)
}
