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

type OrderRepo struct {
	collection *mongo.Collection
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{
		collection: db.Collection("orders"),
	}
}

func (r *OrderRepo) Insert(ctx context.Context, o *vending.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	if _, err := r.collection.InsertOne(ctx, o); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return vending.ErrDuplicatePickupCode
		}
		return fmt.Errorf("cannot insert order: %w", err)
	}

	return nil
}

func (r *OrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*vending.Order, error) {
	var o vending.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}
	return &o, nil
}

func (r *OrderRepo) FindByNumber(ctx context.Context, number string) (*vending.Order, error) {
	var o vending.Order
	err := r.collection.FindOne(ctx, bson.M{"order_number": number}).Decode(&o)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order by number: %w", err)
	}
	return &o, nil
}

func (r *OrderRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*vending.Order, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("cannot list orders by ids: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*vending.Order
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	return result, nil
}

func (r *OrderRepo) ListBySession(ctx context.Context, sessionID string) ([]*vending.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders by session: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*vending.Order
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	return result, nil
}

func (r *OrderRepo) FindByPickupCode(ctx context.Context, code string, excludeStatuses []vending.Status, exclude uuid.UUID) (*vending.Order, error) {
	filter := bson.M{"pickup_code": code}
	if len(excludeStatuses) > 0 {
		filter["status"] = bson.M{"$nin": excludeStatuses}
	}
	if exclude != uuid.Nil {
		filter["_id"] = bson.M{"$ne": exclude}
	}

	var o vending.Order
	err := r.collection.FindOne(ctx, filter).Decode(&o)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order by pickup code: %w", err)
	}
	return &o, nil
}

func (r *OrderRepo) FindActivePickup(ctx context.Context, machineID, code string) (*vending.Order, error) {
	filter := bson.M{
		"pickup_code":    code,
		"machine_id":     machineID,
		"status":         vending.StatusPaid,
		"payment_status": vending.PaymentPaid,
	}

	var o vending.Order
	err := r.collection.FindOne(ctx, filter).Decode(&o)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot resolve pickup code: %w", err)
	}
	return &o, nil
}

func (r *OrderRepo) FindByMachineAndStatus(ctx context.Context, machineID string, statuses []vending.Status) ([]*vending.Order, error) {
	filter := bson.M{
		"machine_id": machineID,
		"status":     bson.M{"$in": statuses},
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders by machine and status: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*vending.Order
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	return result, nil
}

// ConditionalUpdateStatus is the compare-and-swap every status transition
// goes through. The expected status rides in the filter, so a concurrent
// transition makes MatchedCount zero instead of overwriting.
func (r *OrderRepo) ConditionalUpdateStatus(ctx context.Context, id uuid.UUID, expected, next vending.Status, patch vending.StatusPatch) error {
	set := bson.M{
		"status":     next,
		"updated_at": time.Now(),
	}
	if patch.PaymentStatus != nil {
		set["payment_status"] = *patch.PaymentStatus
	}
	if patch.PaymentID != nil {
		set["payment_id"] = *patch.PaymentID
	}
	if patch.PickupCodeExpiresAt != nil {
		set["pickup_code_expires_at"] = *patch.PickupCodeExpiresAt
	}
	if patch.DispensingStatus != nil {
		set["dispensing_status"] = *patch.DispensingStatus
	}
	if patch.DispensingID != nil {
		set["dispensing_id"] = *patch.DispensingID
	}
	if patch.DispensingProgress != nil {
		set["dispensing_progress"] = *patch.DispensingProgress
	}
	if patch.CompletedAt != nil {
		set["completed_at"] = *patch.CompletedAt
	}
	if patch.FailureReason != nil {
		set["failure_reason"] = *patch.FailureReason
	}

	filter := bson.M{"_id": id, "status": expected}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("cannot update order status: %w", err)
	}

	if result.MatchedCount == 0 {
		// Distinguish a lost race from a missing order.
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("cannot check order existence: %w", err)
		}
		if count == 0 {
			return vending.NotFound("order not found: %s", id)
		}
		return vending.ErrStaleStatus
	}

	return nil
}

func (r *OrderRepo) SetPickupCode(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error {
	update := bson.M{"$set": bson.M{
		"pickup_code":            code,
		"pickup_code_expires_at": expiresAt,
		"updated_at":             time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return vending.ErrDuplicatePickupCode
		}
		return fmt.Errorf("cannot set pickup code: %w", err)
	}

	if result.MatchedCount == 0 {
		return vending.NotFound("order not found: %s", id)
	}

	return nil
}

// MarkItemDispensed flips the item's dispensed flag at most once. The
// elemMatch on dispensed=false makes the flip idempotent: a replayed report
// matches nothing and the caller sees false.
func (r *OrderRepo) MarkItemDispensed(ctx context.Context, id uuid.UUID, slot string, at time.Time) (bool, error) {
	filter := bson.M{
		"_id": id,
		"items": bson.M{"$elemMatch": bson.M{
			"slot_position": slot,
			"dispensed":     false,
		}},
	}
	update := bson.M{"$set": bson.M{
		"items.$.dispensed":    true,
		"items.$.dispensed_at": at,
		"updated_at":           time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("cannot mark item dispensed: %w", err)
	}

	return result.ModifiedCount == 1, nil
}

func (r *OrderRepo) UpdateDispensing(ctx context.Context, id uuid.UUID, status vending.DispensingStatus, progress int) error {
	update := bson.M{"$set": bson.M{
		"dispensing_status":   status,
		"dispensing_progress": progress,
		"updated_at":          time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("cannot update dispensing state: %w", err)
	}

	if result.MatchedCount == 0 {
		return vending.NotFound("order not found: %s", id)
	}

	return nil
}
