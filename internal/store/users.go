package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/Joginder1706/backend-socket/internal/chat"
	"github.com/Joginder1706/backend-socket/internal/filter"
)

// DailyFreeLimitSetting is the app_settings key holding the daily message
// allowance for free-plan senders.
const DailyFreeLimitSetting = "daily_free_message_limit"

// GetFilterProfile returns the receiver's saved filter profile, or nil if
// the user has never saved one.
func (s *Store) GetFilterProfile(ctx context.Context, userID chat.UserID) (*filter.Profile, error) {
	const query = `SELECT filter_data FROM filter_data WHERE userid = $1`

	var raw []byte
	err := s.withReconnect(ctx, "get filter profile", func() error {
		return s.db.QueryRowContext(ctx, query, int64(userID)).Scan(&raw)
	})
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get filter profile: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var p filter.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("store: decode filter profile for user %s: %w", userID, err)
	}
	return &p, nil
}

// GetLocationAndAttributes returns the user's last known coordinates, the
// attributes the policy filter compares, and the category ids of the user's
// approved places. It returns nil, nil for an unknown user.
func (s *Store) GetLocationAndAttributes(ctx context.Context, userID chat.UserID) (*filter.Attributes, error) {
	const query = `
		SELECT u.latitude, u.longitude, u.age, u.height, u.ethnicity,
		       ARRAY(
		           SELECT pc.category_id
		           FROM places p
		           JOIN place_categories pc ON pc.place_id = p.place_id
		           WHERE p.userid = u.id AND p.status = 'approved'
		           ORDER BY pc.category_id
		       )
		FROM users u
		WHERE u.id = $1`

	var (
		lat, lon  sql.NullFloat64
		age       sql.NullInt64
		height    sql.NullString
		ethnicity sql.NullString
		cats      []int64
	)
	err := s.withReconnect(ctx, "get attributes", func() error {
		return s.db.QueryRowContext(ctx, query, int64(userID)).
			Scan(&lat, &lon, &age, &height, &ethnicity, pq.Array(&cats))
	})
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get location and attributes: %w", err)
	}

	a := &filter.Attributes{
		Height:      strings.TrimSpace(height.String),
		Ethnicity:   strings.TrimSpace(ethnicity.String),
		CategoryIDs: cats,
	}
	if lat.Valid && lon.Valid {
		a.Latitude, a.Longitude = &lat.Float64, &lon.Float64
	}
	if age.Valid {
		v := int(age.Int64)
		a.Age = &v
	}
	return a, nil
}

// GetPlanTier returns the plan of the user's most recent approved place,
// or "" when the user has none.
func (s *Store) GetPlanTier(ctx context.Context, userID chat.UserID) (string, error) {
	const query = `
		SELECT plan
		FROM places
		WHERE userid = $1 AND status = 'approved'
		ORDER BY place_id DESC
		LIMIT 1`

	var plan sql.NullString
	err := s.withReconnect(ctx, "get plan tier", func() error {
		return s.db.QueryRowContext(ctx, query, int64(userID)).Scan(&plan)
	})
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get plan tier: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(plan.String)), nil
}

// GetDailyFreeLimit reads the configured daily allowance. It returns
// ErrNotFound when the setting is absent so callers can fall back.
func (s *Store) GetDailyFreeLimit(ctx context.Context) (int, error) {
	const query = `SELECT value FROM app_settings WHERE name = $1`

	var value string
	err := s.withReconnect(ctx, "get daily limit", func() error {
		return s.db.QueryRowContext(ctx, query, DailyFreeLimitSetting).Scan(&value)
	})
	if isNoRows(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: get daily free limit: %w", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("store: daily free limit %q: %w", value, err)
	}
	return n, nil
}
