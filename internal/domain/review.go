package domain

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

const (
	MinOpinionLength = 10
	MaxOpinionLength = 500
	MinRating        = 1
	MaxRating        = 10
)

// Review is a user's opinion of a movie. It is created through Movie.AddReview
// and never changes afterwards.
type Review struct {
	id        uuid.UUID
	movieID   string
	opinion   string
	rating    int
	persisted bool
}

func newReview(movieID, opinion string, rating int) (Review, error) {
	err := Validate(validation.Errors{
		"user_opinion": validation.Validate(opinion, validation.Required, validation.RuneLength(MinOpinionLength, MaxOpinionLength)),
		"user_rating":  validation.Validate(rating, validation.Required, validation.Min(MinRating), validation.Max(MaxRating)),
	})
	if err != nil {
		return Review{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Review{}, fmt.Errorf("generate review id: %w", err)
	}
	return Review{id: id, movieID: movieID, opinion: opinion, rating: rating}, nil
}

// RestoreReview rebuilds a stored review.
func RestoreReview(id uuid.UUID, movieID, opinion string, rating int) Review {
	return Review{id: id, movieID: movieID, opinion: opinion, rating: rating, persisted: true}
}

func (r Review) ID() uuid.UUID   { return r.id }
func (r Review) MovieID() string { return r.movieID }
func (r Review) Opinion() string { return r.opinion }
func (r Review) Rating() int     { return r.rating }

// Persisted reports whether the review is already stored with its movie.
func (r Review) Persisted() bool { return r.persisted }
