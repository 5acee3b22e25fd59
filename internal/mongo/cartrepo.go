package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/smartvend/smartvend/internal/vending"
)

type CartRepo struct {
	collection *mongo.Collection
}

func NewCartRepo(db *mongo.Database) *CartRepo {
	return &CartRepo{
		collection: db.Collection("carts"),
	}
}

func (r *CartRepo) FindBySession(ctx context.Context, sessionID string) (*vending.Cart, error) {
	var c vending.Cart
	err := r.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&c)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get cart: %w", err)
	}
	return &c, nil
}

func (r *CartRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("cannot delete cart: %w", err)
	}
	return nil
}
