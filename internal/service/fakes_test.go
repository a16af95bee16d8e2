package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/repository"
)

// memoryStore keeps copies of aggregates, the way a database would.
type memoryStore struct {
	mu      sync.Mutex
	movies  map[string]*domain.Movie
	inserts int
	updates int
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{movies: make(map[string]*domain.Movie)}
}

func clone(m *domain.Movie) *domain.Movie {
	return domain.RestoreMovie(m.ID(), m.Title(), m.Year(), m.Details(), m.Reviews(), m.Cast())
}

func (s *memoryStore) GetByID(_ context.Context, imdbID string) (*domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	m, ok := s.movies[imdbID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(m), nil
}

func (s *memoryStore) GetByTitle(_ context.Context, title string, year *int) (*domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, m := range s.movies {
		if strings.EqualFold(m.Title(), title) && (year == nil || *year == m.Year()) {
			return clone(m), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memoryStore) Search(_ context.Context, filters repository.SearchFilters) ([]*domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*domain.Movie
	for _, m := range s.movies {
		if filters.Title != nil && !strings.Contains(strings.ToLower(m.Title()), strings.ToLower(*filters.Title)) {
			continue
		}
		if filters.Year != nil && *filters.Year != m.Year() {
			continue
		}
		out = append(out, clone(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title() < out[j].Title() })
	return out, nil
}

func (s *memoryStore) Upsert(_ context.Context, movie *domain.Movie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if existing, ok := s.movies[movie.ID()]; ok {
		s.updates++
		reviews := append(existing.Reviews(), movie.PendingReviews()...)
		s.movies[movie.ID()] = domain.RestoreMovie(movie.ID(), movie.Title(), movie.Year(), movie.Details(), reviews, existing.Cast())
	} else {
		s.inserts++
		s.movies[movie.ID()] = clone(movie)
	}
	movie.MarkPersisted()
	s.movies[movie.ID()].MarkPersisted()
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.movies)
}

// stubProvider answers from a fixed map and counts calls.
type stubProvider struct {
	mu     sync.Mutex
	movies map[string]func() (*domain.Movie, error)
	calls  int
	err    error
}

func (p *stubProvider) FetchByIdentifier(_ context.Context, imdbID string) (*domain.Movie, error) {
	return p.lookup(imdbID)
}

func (p *stubProvider) FetchByTitle(_ context.Context, title string, _ *int) (*domain.Movie, error) {
	return p.lookup(strings.ToLower(title))
}

func (p *stubProvider) lookup(key string) (*domain.Movie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	build, ok := p.movies[key]
	if !ok {
		return nil, nil
	}
	return build()
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) ObserveLookup(lookup, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[lookup+"/"+outcome]++
}
