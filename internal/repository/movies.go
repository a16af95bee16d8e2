package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// MoviesRepository persists the Movie aggregate: the movie row, its reviews
// and its cast are always loaded and saved together.
type MoviesRepository struct {
	pool *pgxpool.Pool
}

const movieColumns = `
    imdb_id,
    title,
    year,
    genre,
    director,
    imdb_rating,
    plot
`

// readOnly gives every read a consistent snapshot of the aggregate.
var readOnly = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// GetByID fetches a movie by its IMDb identifier.
func (r *MoviesRepository) GetByID(ctx context.Context, imdbID string) (*domain.Movie, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE imdb_id = $1`, movieColumns)
	return r.getOne(ctx, query, imdbID)
}

// GetByTitle returns the movie whose title equals title, ignoring case. When
// year is set it must match too. If several movies share the title the most
// recent release wins, then the lowest identifier.
func (r *MoviesRepository) GetByTitle(ctx context.Context, title string, year *int) (*domain.Movie, error) {
	where := []string{"lower(title) = lower($1)"}
	args := []any{strings.TrimSpace(title)}
	if year != nil {
		where = append(where, "year = $2")
		args = append(args, *year)
	}
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE %s ORDER BY year DESC, imdb_id ASC LIMIT 1`,
		movieColumns, strings.Join(where, " AND "))
	return r.getOne(ctx, query, args...)
}

// SearchFilters narrows Search results.
type SearchFilters struct {
	Title *string
	Year  *int
	Limit int
}

// Search returns movies whose title contains the filter text, ignoring case,
// ordered by title and year.
func (r *MoviesRepository) Search(ctx context.Context, filters SearchFilters) ([]*domain.Movie, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	} else if filters.Limit > 100 {
		filters.Limit = 100
	}

	where := make([]string, 0)
	args := make([]any, 0)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Title != nil && strings.TrimSpace(*filters.Title) != "" {
		where = append(where, fmt.Sprintf(`title ILIKE %s ESCAPE '\'`, arg("%"+escapeLike(strings.TrimSpace(*filters.Title))+"%")))
	}
	if filters.Year != nil {
		where = append(where, fmt.Sprintf("year = %s", arg(*filters.Year)))
	}

	var query strings.Builder
	query.WriteString("SELECT ")
	query.WriteString(movieColumns)
	query.WriteString(" FROM movies")
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY title, year, imdb_id")
	query.WriteString(fmt.Sprintf(" LIMIT %d", filters.Limit))

	var movies []*domain.Movie
	err := pgx.BeginTxFunc(ctx, r.pool, readOnly, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query.String(), args...)
		if err != nil {
			return err
		}
		movies, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Movie, error) {
			return scanMovie(row, nil, nil)
		})
		if err != nil {
			return err
		}
		return loadCollections(ctx, tx, movies)
	})
	if err != nil {
		return nil, fmt.Errorf("search movies: %w", err)
	}
	return movies, nil
}

// Upsert inserts the aggregate or overwrites the stored movie's scalar fields.
// The cast is written only when the movie row is new; reviews not yet stored
// are attached either way. Everything happens in one transaction, so a
// cancelled context leaves no partial write. Concurrent upserts of the same
// movie serialise on the row and the later one becomes an overwrite.
func (r *MoviesRepository) Upsert(ctx context.Context, movie *domain.Movie) error {
	const query = `
        INSERT INTO movies (imdb_id, title, year, genre, director, imdb_rating, plot)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (imdb_id)
        DO UPDATE SET title = EXCLUDED.title,
                      year = EXCLUDED.year,
                      genre = EXCLUDED.genre,
                      director = EXCLUDED.director,
                      imdb_rating = EXCLUDED.imdb_rating,
                      plot = EXCLUDED.plot,
                      updated_at = now()
        RETURNING (xmax = 0) AS inserted
    `

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var inserted bool
		err := tx.QueryRow(ctx, query,
			movie.ID(),
			movie.Title(),
			movie.Year(),
			movie.Genre,
			movie.Director,
			movie.ImdbRating,
			movie.Plot,
		).Scan(&inserted)
		if err != nil {
			return err
		}
		if inserted {
			if err := insertCast(ctx, tx, movie.ID(), movie.Cast()); err != nil {
				return err
			}
		}
		return insertReviews(ctx, tx, movie.PendingReviews())
	})
	if err != nil {
		return fmt.Errorf("upsert movie %s: %w", movie.ID(), err)
	}
	movie.MarkPersisted()
	return nil
}

// Count returns the number of stored movies.
func (r *MoviesRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM movies`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count movies: %w", err)
	}
	return n, nil
}

func (r *MoviesRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Movie, error) {
	var movie *domain.Movie
	err := pgx.BeginTxFunc(ctx, r.pool, readOnly, func(tx pgx.Tx) error {
		m, err := scanMovie(tx.QueryRow(ctx, query, args...), nil, nil)
		if err != nil {
			return err
		}
		if err := loadCollections(ctx, tx, []*domain.Movie{m}); err != nil {
			return err
		}
		movie = m
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return movie, nil
}

func scanMovie(row pgx.Row, reviews []domain.Review, cast []domain.CastMember) (*domain.Movie, error) {
	var (
		imdbID  string
		title   string
		year    int
		details domain.MovieDetails
	)
	err := row.Scan(
		&imdbID,
		&title,
		&year,
		&details.Genre,
		&details.Director,
		&details.ImdbRating,
		&details.Plot,
	)
	if err != nil {
		return nil, err
	}
	return domain.RestoreMovie(imdbID, title, year, details, reviews, cast), nil
}

// loadCollections replaces each movie with a copy that carries its stored
// reviews and cast in insertion order.
func loadCollections(ctx context.Context, q querier, movies []*domain.Movie) error {
	if len(movies) == 0 {
		return nil
	}
	ids := make([]string, len(movies))
	for i, m := range movies {
		ids[i] = m.ID()
	}

	reviews, err := loadReviews(ctx, q, ids)
	if err != nil {
		return err
	}
	cast, err := loadCast(ctx, q, ids)
	if err != nil {
		return err
	}

	for i, m := range movies {
		movies[i] = domain.RestoreMovie(m.ID(), m.Title(), m.Year(), m.Details(), reviews[m.ID()], cast[m.ID()])
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
