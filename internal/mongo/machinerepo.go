package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/smartvend/smartvend/internal/vending"
)

type MachineRepo struct {
	collection *mongo.Collection
}

func NewMachineRepo(db *mongo.Database) *MachineRepo {
	return &MachineRepo{
		collection: db.Collection("machines"),
	}
}

func (r *MachineRepo) FindByMachineID(ctx context.Context, machineID string) (*vending.Machine, error) {
	var m vending.Machine
	err := r.collection.FindOne(ctx, bson.M{"machine_id": machineID}).Decode(&m)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get machine: %w", err)
	}
	return &m, nil
}

func (r *MachineRepo) List(ctx context.Context) ([]*vending.Machine, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("cannot list machines: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*vending.Machine
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode machines: %w", err)
	}

	return result, nil
}

// RecordDispense bumps the machine's lifetime counters with atomic
// increments. Callers gate this on winning the order's completion update, so
// a replayed hardware report never bumps twice.
func (r *MachineRepo) RecordDispense(ctx context.Context, machineID string, revenue int64) error {
	update := bson.M{
		"$inc": bson.M{
			"total_dispenses": 1,
			"total_revenue":   revenue,
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"machine_id": machineID}, update)
	if err != nil {
		return fmt.Errorf("cannot record dispense: %w", err)
	}

	if result.MatchedCount == 0 {
		return vending.NotFound("machine not found: %s", machineID)
	}

	return nil
}

func (r *MachineRepo) RecordSlotDispense(ctx context.Context, machineID, slot string, qty int, at time.Time) error {
	filter := bson.M{
		"machine_id": machineID,
		"slots": bson.M{"$elemMatch": bson.M{
			"position": slot,
			"stock":    bson.M{"$gte": qty},
		}},
	}
	update := bson.M{
		"$inc": bson.M{"slots.$.stock": -qty},
		"$set": bson.M{
			"slots.$.last_dispense_at": at,
			"updated_at":               time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("cannot record slot dispense: %w", err)
	}

	if result.MatchedCount == 0 {
		return fmt.Errorf("slot %s not found or empty on machine %s", slot, machineID)
	}

	return nil
}

// ApplyHealth merges a hardware health report into the machine document.
// Fault entries append to the error log; slot stock readings overwrite, since
// the hardware count is authoritative.
func (r *MachineRepo) ApplyHealth(ctx context.Context, machineID string, report vending.HealthReport) (*vending.Machine, error) {
	set := bson.M{
		"last_heartbeat": report.ReportedAt,
		"updated_at":     time.Now(),
	}
	if report.Status != "" {
		set["status"] = report.Status
		set["is_operational"] = report.Status == vending.MachineOnline
	}
	if report.Temperature != nil {
		set["temperature.current"] = *report.Temperature
	}

	update := bson.M{"$set": set}
	if len(report.Faults) > 0 {
		update["$push"] = bson.M{"errors": bson.M{"$each": report.Faults}}
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"machine_id": machineID}, update)
	if err != nil {
		return nil, fmt.Errorf("cannot apply health report: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, nil
	}

	for position, stock := range report.SlotStock {
		filter := bson.M{"machine_id": machineID, "slots.position": position}
		slotUpdate := bson.M{"$set": bson.M{"slots.$.stock": stock}}
		if _, err := r.collection.UpdateOne(ctx, filter, slotUpdate); err != nil {
			return nil, fmt.Errorf("cannot update slot stock: %w", err)
		}
	}

	return r.FindByMachineID(ctx, machineID)
}

// Restock overwrites the reported slots with the technician's counts,
// appending slots the machine did not have before.
func (r *MachineRepo) Restock(ctx context.Context, machineID string, slots []vending.RestockSlot, at time.Time) (*vending.Machine, error) {
	result, err := r.collection.UpdateOne(ctx, bson.M{"machine_id": machineID}, bson.M{
		"$set": bson.M{
			"last_restocked": at,
			"updated_at":     time.Now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot record restock: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, nil
	}

	for _, s := range slots {
		slot := vending.Slot{
			Position:      s.Position,
			ProductID:     s.ProductID,
			Stock:         s.Stock,
			MaxCapacity:   s.MaxCapacity,
			IsOperational: true,
		}

		filter := bson.M{"machine_id": machineID, "slots.position": s.Position}
		res, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"slots.$": slot}})
		if err != nil {
			return nil, fmt.Errorf("cannot restock slot %s: %w", s.Position, err)
		}

		if res.MatchedCount == 0 {
			_, err := r.collection.UpdateOne(ctx, bson.M{"machine_id": machineID}, bson.M{
				"$push": bson.M{"slots": slot},
			})
			if err != nil {
				return nil, fmt.Errorf("cannot add slot %s: %w", s.Position, err)
			}
		}
	}

	return r.FindByMachineID(ctx, machineID)
}
