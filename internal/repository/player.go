package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrProfileNotFound = errors.New("player profile not found")

// Profile is a client's stable identity shown to opponents.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ProfileRepository interface {
	CreateOrUpdate(ctx context.Context, profile Profile) error
	GetByID(ctx context.Context, id string) (Profile, error)
}

type dbProfile struct {
	client *redis.Client
}

func NewProfileRepository(client *redis.Client) ProfileRepository {
	return &dbProfile{
		client: client,
	}
}

func (that *dbProfile) CreateOrUpdate(ctx context.Context, profile Profile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	profileKey := "player:" + profile.ID
	if err = that.client.Set(ctx, profileKey, profileJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}

	return nil
}

func (that *dbProfile) GetByID(ctx context.Context, id string) (Profile, error) {
	profileKey := "player:" + id

	response, err := that.client.Get(ctx, profileKey).Result()

	if errors.Is(err, redis.Nil) {
		return Profile{}, ErrProfileNotFound
	}

	if err != nil {
		return Profile{}, fmt.Errorf("failed to get profile by ID: %w", err)
	}

	var profile Profile
	if err = json.Unmarshal([]byte(response), &profile); err != nil {
		return Profile{}, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	return profile, nil
}
