package omdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// Response is the OMDb wire format for a single title lookup.
type Response struct {
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	ImdbID     string `json:"imdbID"`
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Actors     string `json:"Actors"`
	Plot       string `json:"Plot"`
	ImdbRating string `json:"imdbRating"`
	Response   string `json:"Response"`
	Error      string `json:"Error"`
}

func (r Response) found() bool {
	return strings.EqualFold(r.Response, "True")
}

// noResult reports whether the provider answered that the movie does not exist.
func (r Response) noResult() bool {
	if r.found() {
		return false
	}
	msg := strings.ToLower(r.Error)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "incorrect imdb id")
}

// toMovie maps a successful response onto a new aggregate. Any payload that
// cannot produce a valid movie is a domain.ErrMapping.
func toMovie(r Response) (*domain.Movie, error) {
	year, err := strconv.Atoi(strings.TrimSpace(r.Year))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid year %q", domain.ErrMapping, r.Year)
	}

	movie, err := domain.NewMovie(strings.TrimSpace(r.ImdbID), strings.TrimSpace(r.Title), year)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMapping, err)
	}
	movie.Genre = orUnknown(r.Genre)
	movie.Director = orUnknown(r.Director)
	movie.ImdbRating = orUnknown(r.ImdbRating)
	movie.Plot = orUnknown(r.Plot)

	for _, name := range splitActors(r.Actors) {
		if _, err := movie.AddCastMember(name); err != nil {
			return nil, fmt.Errorf("%w: actor %q: %w", domain.ErrMapping, name, err)
		}
	}
	return movie, nil
}

func splitActors(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" || name == domain.Unknown {
			continue
		}
		names = append(names, name)
	}
	return names
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return domain.Unknown
	}
	return v
}
