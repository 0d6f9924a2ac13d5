package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

// Registration is the shape the registration chain collects.
type Registration struct {
	Name string `mapstructure:"name"`
	Age  int    `mapstructure:"age"`
	Role string `mapstructure:"role"`
}

// SaveRegistrationAction persists the registration chain's collected data
// as a user record. The stored id is merged back under "user_id" so later
// steps can reference it.
func (s *Store) SaveRegistrationAction() dialog.ActionFunc {
	return func(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
		var reg Registration
		if err := dialog.DecodeData(data, &reg); err != nil {
			return nil, fmt.Errorf("failed to decode registration data: %w", err)
		}
		u := &User{Identity: identity, Name: reg.Name, Age: reg.Age, Role: reg.Role}
		if existing, err := s.ByIdentity(ctx, identity); err == nil {
			u.ID = existing.ID
			u.CreatedAt = existing.CreatedAt
		}
		if err := s.Upsert(ctx, u); err != nil {
			return nil, err
		}
		return map[string]any{"user_id": u.ID}, nil
	}
}

// SetSubscriptionAction flips the identity's broadcast subscription based on
// the choice collected under field ("subscribe" turns it on, anything else
// off). Unregistered identities get "registered": "false" instead of an error.
func (s *Store) SetSubscriptionAction(field string) dialog.ActionFunc {
	return func(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
		choice, _ := data[field].(string)
		subscribed := choice == "subscribe"
		if err := s.SetSubscribed(ctx, identity, subscribed); err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return map[string]any{"registered": "false"}, nil
			}
			return nil, err
		}
		return map[string]any{
			"registered": "true",
			"subscribed": fmt.Sprintf("%t", subscribed),
		}, nil
	}
}

// LoadProfileAction fetches the identity's user record into the session
// data, for chains that show or edit an existing profile.
func (s *Store) LoadProfileAction() dialog.ActionFunc {
	return func(ctx context.Context, identity dialog.Identity, data map[string]any) (map[string]any, error) {
		u, err := s.ByIdentity(ctx, identity)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return map[string]any{"registered": "false"}, nil
			}
			return nil, err
		}
		return map[string]any{
			"registered": "true",
			"name":       u.Name,
			"age":        u.Age,
			"role":       u.Role,
			"user_id":    u.ID,
		}, nil
	}
}
