package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrMatchNotFound = errors.New("match not found")

// MatchRecord is a write-only archive entry for a finished match. Live room
// state never touches storage; losing these on a flush costs nothing.
type MatchRecord struct {
	RoomID     string    `json:"room_id"`
	Winner     string    `json:"winner"` // coin, or "-" for a tie
	Moves      int       `json:"moves"`
	FinishedAt time.Time `json:"finished_at"`
}

type MatchRepository interface {
	SaveResult(ctx context.Context, record *MatchRecord) error
	GetByRoomID(ctx context.Context, roomID string) (*MatchRecord, error)
}

type dbMatch struct {
	client *redis.Client
}

func NewMatchRepository(client *redis.Client) MatchRepository {
	return &dbMatch{
		client: client,
	}
}

func (that *dbMatch) SaveResult(ctx context.Context, record *MatchRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("could not marshal match record: %w", err)
	}

	matchKey := "match:" + record.RoomID
	if err = that.client.Set(ctx, matchKey, recordJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set match record: %w", err)
	}

	return nil
}

func (that *dbMatch) GetByRoomID(ctx context.Context, roomID string) (*MatchRecord, error) {
	matchKey := "match:" + roomID

	response, err := that.client.Get(ctx, matchKey).Result()

	if errors.Is(err, redis.Nil) {
		return nil, ErrMatchNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get match record: %w", err)
	}

	var record MatchRecord
	if err = json.Unmarshal([]byte(response), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match record: %w", err)
	}

	return &record, nil
}
