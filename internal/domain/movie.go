package domain

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// FirstMovieYear is the release year of the earliest surviving motion picture.
	FirstMovieYear = 1888
	// Unknown fills descriptive fields the provider did not report.
	Unknown = "N/A"

	maxTitleLength = 200
)

// Movie is the aggregate root. Identifier, title and year are fixed at
// construction; the descriptive fields may be enriched later.
type Movie struct {
	id    string
	title string
	year  int

	Genre      string
	Director   string
	ImdbRating string
	Plot       string

	reviews []Review
	cast    []CastMember
}

// NewMovie validates the identity fields and returns a movie with all
// descriptive fields set to Unknown.
func NewMovie(imdbID, title string, year int) (*Movie, error) {
	err := Validate(validation.Errors{
		"imdb_id": validation.Validate(imdbID, validation.Required),
		"title":   validation.Validate(title, validation.Required, validation.RuneLength(1, maxTitleLength)),
		"year":    validation.Validate(year, validation.Required, validation.Min(FirstMovieYear), validation.Max(MaxReleaseYear())),
	})
	if err != nil {
		return nil, err
	}
	return &Movie{
		id:         imdbID,
		title:      title,
		year:       year,
		Genre:      Unknown,
		Director:   Unknown,
		ImdbRating: Unknown,
		Plot:       Unknown,
	}, nil
}

// MaxReleaseYear is the latest year a movie may be released in: next year.
func MaxReleaseYear() int {
	return time.Now().Year() + 1
}

// MovieDetails holds the mutable descriptive fields.
type MovieDetails struct {
	Genre      string
	Director   string
	ImdbRating string
	Plot       string
}

// RestoreMovie rebuilds an aggregate from stored rows without re-validating it.
func RestoreMovie(imdbID, title string, year int, details MovieDetails, reviews []Review, cast []CastMember) *Movie {
	return &Movie{
		id:         imdbID,
		title:      title,
		year:       year,
		Genre:      details.Genre,
		Director:   details.Director,
		ImdbRating: details.ImdbRating,
		Plot:       details.Plot,
		reviews:    reviews,
		cast:       cast,
	}
}

func (m *Movie) ID() string    { return m.id }
func (m *Movie) Title() string { return m.title }
func (m *Movie) Year() int     { return m.year }

// Details returns the descriptive fields.
func (m *Movie) Details() MovieDetails {
	return MovieDetails{
		Genre:      m.Genre,
		Director:   m.Director,
		ImdbRating: m.ImdbRating,
		Plot:       m.Plot,
	}
}

// Reviews returns the reviews in insertion order.
func (m *Movie) Reviews() []Review {
	out := make([]Review, len(m.reviews))
	copy(out, m.reviews)
	return out
}

// Cast returns the cast members in insertion order.
func (m *Movie) Cast() []CastMember {
	out := make([]CastMember, len(m.cast))
	copy(out, m.cast)
	return out
}

// AddReview appends a new review. The movie is left unchanged when the
// opinion or rating is invalid.
func (m *Movie) AddReview(opinion string, rating int) (Review, error) {
	review, err := newReview(m.id, opinion, rating)
	if err != nil {
		return Review{}, err
	}
	m.reviews = append(m.reviews, review)
	return review, nil
}

// AddCastMember appends a new cast member.
func (m *Movie) AddCastMember(name string) (CastMember, error) {
	member, err := newCastMember(name)
	if err != nil {
		return CastMember{}, err
	}
	m.cast = append(m.cast, member)
	return member, nil
}

// PendingReviews returns the reviews not yet attached to a stored movie.
func (m *Movie) PendingReviews() []Review {
	var pending []Review
	for _, r := range m.reviews {
		if !r.persisted {
			pending = append(pending, r)
		}
	}
	return pending
}

// MarkPersisted flags every review and cast member as stored.
func (m *Movie) MarkPersisted() {
	for i := range m.reviews {
		m.reviews[i].persisted = true
	}
	for i := range m.cast {
		m.cast[i].persisted = true
	}
}
