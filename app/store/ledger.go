package store

import (
	"context"
	"errors"

	"example/mockup-billing/app/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ClaimEvent records that eventID is being processed. It returns false when
// the event was already completed or another worker holds a fresh claim.
func (s *Store) ClaimEvent(ctx context.Context, provider models.Provider, eventID, eventType string) (bool, error) {
	now := s.now().UTC()
	ev := models.ProcessedEvent{
		Key:       models.EventKey(provider, eventID),
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		State:     models.EventProcessing,
		ClaimedAt: now,
	}
	_, err := s.events.InsertOne(ctx, ev)
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, err
	}

	// Take over a claim left behind by a worker that never finished.
	res, err := s.events.UpdateOne(ctx,
		bson.M{
			"_id":       ev.Key,
			"state":     models.EventProcessing,
			"claimedAt": bson.M{"$lt": now.Add(-staleClaimAfter)},
		},
		bson.M{"$set": bson.M{"claimedAt": now, "eventType": eventType}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) CompleteEvent(ctx context.Context, provider models.Provider, eventID string) error {
	now := s.now().UTC()
	_, err := s.events.UpdateByID(ctx, models.EventKey(provider, eventID), bson.M{
		"$set": bson.M{"state": models.EventCompleted, "completedAt": now},
	})
	return err
}

// ReleaseEvent drops an unfinished claim so a redelivery can process the event.
func (s *Store) ReleaseEvent(ctx context.Context, provider models.Provider, eventID string) error {
	_, err := s.events.DeleteOne(ctx, bson.M{
		"_id":   models.EventKey(provider, eventID),
		"state": models.EventProcessing,
	})
	return err
}

// FindEvent returns the ledger entry for an event.
func (s *Store) FindEvent(ctx context.Context, provider models.Provider, eventID string) (*models.ProcessedEvent, error) {
	var ev models.ProcessedEvent
	err := s.events.FindOne(ctx, bson.M{"_id": models.EventKey(provider, eventID)}).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
