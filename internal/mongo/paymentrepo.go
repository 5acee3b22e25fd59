package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smartvend/smartvend/internal/vending"
)

type PaymentRepo struct {
	collection *mongo.Collection
}

func NewPaymentRepo(db *mongo.Database) *PaymentRepo {
	return &PaymentRepo{
		collection: db.Collection("payments"),
	}
}

func (r *PaymentRepo) Create(ctx context.Context, p *vending.Payment) error {
	if p == nil {
		return fmt.Errorf("payment is nil")
	}

	if _, err := r.collection.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("cannot create payment: %w", err)
	}

	return nil
}

// FindByOrder returns the most recent payment record for an order.
func (r *PaymentRepo) FindByOrder(ctx context.Context, orderID uuid.UUID) (*vending.Payment, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var p vending.Payment
	err := r.collection.FindOne(ctx, bson.M{"order_id": orderID}, opts).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get payment by order: %w", err)
	}
	return &p, nil
}

func (r *PaymentRepo) FindByIntent(ctx context.Context, intentID string) (*vending.Payment, error) {
	var p vending.Payment
	err := r.collection.FindOne(ctx, bson.M{"payment_intent_id": intentID}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get payment by intent: %w", err)
	}
	return &p, nil
}

func (r *PaymentRepo) MarkOutcome(ctx context.Context, intentID string, status vending.PaymentState, failureCode, failureMessage string, paidAt *time.Time) error {
	set := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if failureCode != "" {
		set["failure_code"] = failureCode
	}
	if failureMessage != "" {
		set["failure_message"] = failureMessage
	}
	if paidAt != nil {
		set["paid_at"] = *paidAt
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"payment_intent_id": intentID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("cannot mark payment outcome: %w", err)
	}

	if result.MatchedCount == 0 {
		return vending.NotFound("payment not found for intent: %s", intentID)
	}

	return nil
}

func (r *PaymentRepo) MarkRefunded(ctx context.Context, id uuid.UUID, amount int64, reason string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"status":          vending.PaymentRecordRefunded,
		"refunded_amount": amount,
		"refund_reason":   reason,
		"refunded_at":     at,
		"updated_at":      time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("cannot mark payment refunded: %w", err)
	}

	if result.MatchedCount == 0 {
		return vending.NotFound("payment not found: %s", id)
	}

	return nil
}
