package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

func insertReviews(ctx context.Context, q querier, reviews []domain.Review) error {
	const query = `
        INSERT INTO reviews (id, imdb_id, user_opinion, user_rating)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (id) DO NOTHING
    `
	for _, review := range reviews {
		if _, err := q.Exec(ctx, query, review.ID(), review.MovieID(), review.Opinion(), review.Rating()); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
	}
	return nil
}

func loadReviews(ctx context.Context, q querier, movieIDs []string) (map[string][]domain.Review, error) {
	const query = `
        SELECT id, imdb_id, user_opinion, user_rating
        FROM reviews
        WHERE imdb_id = ANY($1)
        ORDER BY imdb_id, seq
    `
	rows, err := q.Query(ctx, query, movieIDs)
	if err != nil {
		return nil, fmt.Errorf("load reviews: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Review, len(movieIDs))
	for rows.Next() {
		var (
			id      uuid.UUID
			movieID string
			opinion string
			rating  int
		)
		if err := rows.Scan(&id, &movieID, &opinion, &rating); err != nil {
			return nil, err
		}
		out[movieID] = append(out[movieID], domain.RestoreReview(id, movieID, opinion, rating))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func insertCast(ctx context.Context, tx pgx.Tx, movieID string, cast []domain.CastMember) error {
	if len(cast) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, member := range cast {
		batch.Queue(`INSERT INTO actors (id, movie_imdb_id, name) VALUES ($1,$2,$3)`, member.ID(), movieID, member.Name())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert cast: %w", err)
	}
	return nil
}

func loadCast(ctx context.Context, q querier, movieIDs []string) (map[string][]domain.CastMember, error) {
	const query = `
        SELECT id, movie_imdb_id, name
        FROM actors
        WHERE movie_imdb_id = ANY($1)
        ORDER BY movie_imdb_id, seq
    `
	rows, err := q.Query(ctx, query, movieIDs)
	if err != nil {
		return nil, fmt.Errorf("load cast: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.CastMember, len(movieIDs))
	for rows.Next() {
		var (
			id      uuid.UUID
			movieID string
			name    string
		)
		if err := rows.Scan(&id, &movieID, &name); err != nil {
			return nil, err
		}
		out[movieID] = append(out[movieID], domain.RestoreCastMember(id, name))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
