// Package service resolves movies cache-aside: the local store is consulted
// first and the external provider only on a miss, with the result written
// back before it is returned.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/omdb"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
)

// MovieStore is the persistence the service needs.
type MovieStore interface {
	GetByID(ctx context.Context, imdbID string) (*domain.Movie, error)
	GetByTitle(ctx context.Context, title string, year *int) (*domain.Movie, error)
	Search(ctx context.Context, filters repository.SearchFilters) ([]*domain.Movie, error)
	Upsert(ctx context.Context, movie *domain.Movie) error
}

// LookupRecorder counts resolved lookups.
type LookupRecorder interface {
	ObserveLookup(lookup, outcome string)
}

// Lookup outcomes.
const (
	OutcomeStoreHit     = "store_hit"
	OutcomeProviderHit  = "provider_hit"
	OutcomeNotFound     = "not_found"
	OutcomeUnavailable  = "unavailable"
	OutcomeMappingError = "mapping_error"
	OutcomeError        = "error"
)

// MovieService orchestrates the store and the provider.
type MovieService struct {
	store    MovieStore
	provider omdb.Provider
	logger   *slog.Logger
	recorder LookupRecorder
}

// New constructs a MovieService. recorder may be nil.
func New(store MovieStore, provider omdb.Provider, logger *slog.Logger, recorder LookupRecorder) *MovieService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MovieService{
		store:    store,
		provider: provider,
		logger:   logger.With(slog.String("component", "movie_service")),
		recorder: recorder,
	}
}

// ResolveByIdentifier returns the movie with the given IMDb id, fetching and
// storing it on a local miss.
func (s *MovieService) ResolveByIdentifier(ctx context.Context, imdbID string) (*domain.Movie, error) {
	imdbID = strings.TrimSpace(imdbID)
	if err := domain.Validate(validation.Errors{
		"imdb_id": validation.Validate(imdbID, validation.Required),
	}); err != nil {
		return nil, err
	}

	return s.resolve(ctx, "identifier", imdbID,
		func(ctx context.Context) (*domain.Movie, error) {
			return s.store.GetByID(ctx, imdbID)
		},
		func(ctx context.Context) (*domain.Movie, error) {
			return s.provider.FetchByIdentifier(ctx, imdbID)
		})
}

// ResolveByTitle returns the movie with the given title and optional year,
// fetching and storing it on a local miss.
func (s *MovieService) ResolveByTitle(ctx context.Context, title string, year *int) (*domain.Movie, error) {
	title = strings.TrimSpace(title)
	if err := validateTitleQuery(title, year, true); err != nil {
		return nil, err
	}

	key := title
	if year != nil {
		key = fmt.Sprintf("%s (%d)", title, *year)
	}
	return s.resolve(ctx, "title", key,
		func(ctx context.Context) (*domain.Movie, error) {
			return s.store.GetByTitle(ctx, title, year)
		},
		func(ctx context.Context) (*domain.Movie, error) {
			return s.provider.FetchByTitle(ctx, title, year)
		})
}

// AddReview resolves the movie, appends a review and stores the result.
func (s *MovieService) AddReview(ctx context.Context, imdbID, opinion string, rating int) (*domain.Movie, error) {
	movie, err := s.ResolveByIdentifier(ctx, imdbID)
	if err != nil {
		return nil, err
	}
	if _, err := movie.AddReview(opinion, rating); err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, movie); err != nil {
		return nil, fmt.Errorf("store review: %w", err)
	}
	s.logger.InfoContext(ctx, "review added",
		slog.String("imdb_id", movie.ID()),
		slog.Int("rating", rating),
		slog.Int("reviews", len(movie.Reviews())))
	return movie, nil
}

// SearchMovies lists stored movies whose title contains title. It never
// calls the provider.
func (s *MovieService) SearchMovies(ctx context.Context, title string, year *int, limit int) ([]*domain.Movie, error) {
	title = strings.TrimSpace(title)
	if err := validateTitleQuery(title, year, false); err != nil {
		return nil, err
	}
	filters := repository.SearchFilters{Year: year, Limit: limit}
	if title != "" {
		filters.Title = &title
	}
	movies, err := s.store.Search(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("search movies: %w", err)
	}
	return movies, nil
}

func (s *MovieService) resolve(
	ctx context.Context,
	lookup, key string,
	fromStore func(context.Context) (*domain.Movie, error),
	fromProvider func(context.Context) (*domain.Movie, error),
) (*domain.Movie, error) {
	movie, err := fromStore(ctx)
	if err == nil {
		s.record(lookup, OutcomeStoreHit)
		return movie, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		s.record(lookup, OutcomeError)
		return nil, fmt.Errorf("load movie %q: %w", key, err)
	}

	movie, err = fromProvider(ctx)
	if err != nil {
		outcome := providerOutcome(err)
		s.record(lookup, outcome)
		s.logger.WarnContext(ctx, "provider fallback failed",
			slog.String("lookup", lookup),
			slog.String("key", key),
			slog.String("outcome", outcome),
			slog.Any("error", err))
		return nil, err
	}
	if movie == nil {
		s.record(lookup, OutcomeNotFound)
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}

	if err := s.store.Upsert(ctx, movie); err != nil {
		s.record(lookup, OutcomeError)
		return nil, fmt.Errorf("cache movie %s: %w", movie.ID(), err)
	}
	// The provider's id may already be stored under another title; the
	// stored aggregate carries its reviews and cast.
	movie, err = s.store.GetByID(ctx, movie.ID())
	if err != nil {
		s.record(lookup, OutcomeError)
		return nil, fmt.Errorf("reload movie: %w", err)
	}
	s.record(lookup, OutcomeProviderHit)
	s.logger.InfoContext(ctx, "movie cached from provider",
		slog.String("lookup", lookup),
		slog.String("imdb_id", movie.ID()),
		slog.String("title", movie.Title()),
		slog.Int("year", movie.Year()))
	return movie, nil
}

func (s *MovieService) record(lookup, outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveLookup(lookup, outcome)
	}
}

func providerOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrServiceUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, domain.ErrMapping):
		return OutcomeMappingError
	default:
		return OutcomeError
	}
}

func validateTitleQuery(title string, year *int, titleRequired bool) error {
	titleRules := []validation.Rule{validation.RuneLength(0, 200)}
	if titleRequired {
		titleRules = append(titleRules, validation.Required)
	}
	fields := validation.Errors{
		"title": validation.Validate(title, titleRules...),
	}
	if year != nil {
		fields["year"] = validation.Validate(*year,
			validation.Required,
			validation.Min(domain.FirstMovieYear),
			validation.Max(domain.MaxReleaseYear()))
	}
	return domain.Validate(fields)
}
