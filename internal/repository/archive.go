package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/quoridor-backend/internal/entity"
)

var ErrGameNotFound = errors.New("archived game not found")

const archiveKeyPrefix = "archive:game:"

// GameArchive keeps a record of every finished game. Nothing is read back at
// boot; the archive only feeds the read side.
type GameArchive interface {
	SaveCompleted(ctx context.Context, game entity.CompletedGame) error
	GetByID(ctx context.Context, id string) (entity.CompletedGame, error)
	ListIDs(ctx context.Context) ([]string, error)
}

type dbArchive struct {
	client *redis.Client
}

func NewGameArchive(client *redis.Client) GameArchive {
	return &dbArchive{
		client: client,
	}
}

func (that *dbArchive) SaveCompleted(ctx context.Context, game entity.CompletedGame) error {
	gameJSON, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("could not marshal game: %w", err)
	}

	gameKey := archiveKeyPrefix + game.ID
	if err = that.client.Set(ctx, gameKey, gameJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set game record: %w", err)
	}

	return nil
}

func (that *dbArchive) GetByID(ctx context.Context, id string) (entity.CompletedGame, error) {
	gameKey := archiveKeyPrefix + id

	response, err := that.client.Get(ctx, gameKey).Result()

	if errors.Is(err, redis.Nil) {
		return entity.CompletedGame{}, ErrGameNotFound
	}

	if err != nil {
		return entity.CompletedGame{}, fmt.Errorf("failed to get game record: %w", err)
	}

	var game entity.CompletedGame
	if err = json.Unmarshal([]byte(response), &game); err != nil {
		return entity.CompletedGame{}, fmt.Errorf("failed to unmarshal game record: %w", err)
	}

	return game, nil
}

func (that *dbArchive) ListIDs(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)

	for {
		keys, next, err := that.client.Scan(ctx, cursor, archiveKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan game records: %w", err)
		}

		for _, key := range keys {
			ids = append(ids, key[len(archiveKeyPrefix):])
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return ids, nil
}
