package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/smartvend/smartvend/internal/vending"
)

type ProductRepo struct {
	collection *mongo.Collection
}

func NewProductRepo(db *mongo.Database) *ProductRepo {
	return &ProductRepo{
		collection: db.Collection("products"),
	}
}

func (r *ProductRepo) FindByID(ctx context.Context, id uuid.UUID) (*vending.Product, error) {
	var p vending.Product
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get product: %w", err)
	}
	return &p, nil
}

// DecrementStock subtracts qty atomically. The stock floor rides in the
// filter, so concurrent dispenses cannot drive the count negative.
func (r *ProductRepo) DecrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	filter := bson.M{
		"_id":   id,
		"stock": bson.M{"$gte": qty},
	}
	update := bson.M{
		"$inc": bson.M{"stock": -qty},
		"$set": bson.M{"updated_at": time.Now()},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("cannot decrement stock: %w", err)
	}

	if result.MatchedCount == 0 {
		return vending.Conflict("insufficient stock for product %s", id)
	}

	return nil
}

func (r *ProductRepo) SetStock(ctx context.Context, id uuid.UUID, stock int, slot, machineID string) error {
	update := bson.M{"$set": bson.M{
		"stock":         stock,
		"slot_position": slot,
		"machine_id":    machineID,
		"is_available":  stock > 0,
		"updated_at":    time.Now(),
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("cannot set stock: %w", err)
	}

	if result.MatchedCount == 0 {
		return vending.NotFound("product not found: %s", id)
	}

	return nil
}
