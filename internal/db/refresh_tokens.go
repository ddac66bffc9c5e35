package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRefreshTokenInvalid is returned when a refresh token is unknown or expired.
var ErrRefreshTokenInvalid = errors.New("invalid or expired refresh token")

// StoreRefreshToken records the hash of a newly issued refresh token.
func StoreRefreshToken(ctx context.Context, pool *pgxpool.Pool, userID, tokenHash string, expiresAt time.Time) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken consumes the token with oldHash and stores newHash in its place.
// Returns the owning user id, or ErrRefreshTokenInvalid if the old token is
// unknown, already used, or expired at now.
//
// authorize, when not nil, runs with the owning user id after the old token is
// claimed and before the rotation commits. If it returns an error the rotation
// is rolled back, the old token stays valid, and that error is returned as is.
func RotateRefreshToken(ctx context.Context, pool *pgxpool.Pool, oldHash, newHash string, now, newExpiresAt time.Time, authorize func(userID string) error) (string, error) {
	var userID string

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			DELETE FROM refresh_tokens
			WHERE token_hash = $1 AND expires_at > $2
			RETURNING user_id
		`, oldHash, now).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRefreshTokenInvalid
		}
		if err != nil {
			return fmt.Errorf("failed to consume refresh token: %w", err)
		}

		if authorize != nil {
			if err := authorize(userID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), userID, newHash, newExpiresAt); err != nil {
			return fmt.Errorf("failed to store rotated refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return userID, nil
}

// DeleteRefreshToken revokes a refresh token. Deleting an unknown token is not an error.
func DeleteRefreshToken(ctx context.Context, pool *pgxpool.Pool, tokenHash string) error {
	if _, err := pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens removes every token that expired before now.
// Returns the number of rows removed.
func DeleteExpiredRefreshTokens(ctx context.Context, pool *pgxpool.Pool, now time.Time) (int64, error) {
	tag, err := pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
