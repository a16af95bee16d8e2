package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

const (
	maxRequestBody = 1 << 20

	// statusClientClosedRequest is nginx's code for a client that hung up.
	statusClientClosedRequest = 499

	minOpinionLength = 5
	maxOpinionLength = 500
	maxListLimit     = 100
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type createReviewRequest struct {
	ImdbID      string `json:"imdb_id"`
	UserOpinion string `json:"user_opinion"`
	UserRating  int    `json:"user_rating"`
}

func (req createReviewRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.ImdbID, validation.Required, validation.Length(1, 20)),
		validation.Field(&req.UserOpinion, validation.Required, validation.RuneLength(minOpinionLength, maxOpinionLength)),
		validation.Field(&req.UserRating, validation.Required, validation.Min(domain.MinRating), validation.Max(domain.MaxRating)),
	)
}

type reviewResponse struct {
	UserOpinion string `json:"user_opinion"`
	UserRating  int    `json:"user_rating"`
}

type actorResponse struct {
	Name string `json:"name"`
}

type movieResponse struct {
	ImdbID     string           `json:"imdb_id"`
	Title      string           `json:"title"`
	Year       int              `json:"year"`
	Genre      string           `json:"genre"`
	Director   string           `json:"director"`
	ImdbRating string           `json:"imdb_rating"`
	Plot       string           `json:"plot"`
	Reviews    []reviewResponse `json:"reviews"`
	Actors     []actorResponse  `json:"actors"`
}

type movieListResponse struct {
	Items []movieResponse `json:"items"`
}

type movieQuery struct {
	Title string
	Year  *int
	Limit int
}

func (s *Server) handleSearchMovie(w http.ResponseWriter, r *http.Request) {
	q, fieldErr := parseMovieQuery(r.URL.Query())
	if fieldErr != nil {
		s.respondErrorDetails(w, http.StatusBadRequest, "BAD_REQUEST", "invalid query parameters", fieldErr)
		return
	}
	if q.Title == "" {
		s.respondErrorDetails(w, http.StatusBadRequest, "BAD_REQUEST", "invalid query parameters",
			map[string]string{"title": "cannot be blank"})
		return
	}

	movie, err := s.movies.ResolveByTitle(r.Context(), q.Title, q.Year)
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.respondJSON(w, http.StatusOK, toMovieResponse(movie))
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.ImdbID = strings.TrimSpace(req.ImdbID)
	if err := req.Validate(); err != nil {
		s.respondErrorDetails(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", "validation failed", err)
		return
	}

	movie, err := s.movies.AddReview(r.Context(), req.ImdbID, req.UserOpinion, req.UserRating)
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusUnprocessableEntity)
		return
	}
	s.respondJSON(w, http.StatusOK, toMovieResponse(movie))
}

func (s *Server) handleListMovies(w http.ResponseWriter, r *http.Request) {
	q, fieldErr := parseMovieQuery(r.URL.Query())
	if fieldErr != nil {
		s.respondErrorDetails(w, http.StatusBadRequest, "BAD_REQUEST", "invalid query parameters", fieldErr)
		return
	}

	movies, err := s.movies.SearchMovies(r.Context(), q.Title, q.Year, q.Limit)
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	items := make([]movieResponse, 0, len(movies))
	for _, m := range movies {
		items = append(items, toMovieResponse(m))
	}
	s.respondJSON(w, http.StatusOK, movieListResponse{Items: items})
}

// parseMovieQuery reads title, year, and limit. Only syntax is checked here;
// ranges are enforced by the service.
func parseMovieQuery(values url.Values) (movieQuery, map[string]string) {
	q := movieQuery{Title: strings.TrimSpace(values.Get("title"))}
	problems := map[string]string{}

	if raw := strings.TrimSpace(values.Get("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			problems["year"] = "must be an integer"
		} else {
			q.Year = &year
		}
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			problems["limit"] = "must be an integer between 1 and 100"
		} else {
			q.Limit = limit
		}
	}

	if len(problems) > 0 {
		return movieQuery{}, problems
	}
	return q, nil
}

func toMovieResponse(m *domain.Movie) movieResponse {
	details := m.Details()
	resp := movieResponse{
		ImdbID:     m.ID(),
		Title:      m.Title(),
		Year:       m.Year(),
		Genre:      details.Genre,
		Director:   details.Director,
		ImdbRating: details.ImdbRating,
		Plot:       details.Plot,
		Reviews:    []reviewResponse{},
		Actors:     []actorResponse{},
	}
	for _, rv := range m.Reviews() {
		resp.Reviews = append(resp.Reviews, reviewResponse{UserOpinion: rv.Opinion(), UserRating: rv.Rating()})
	}
	for _, c := range m.Cast() {
		resp.Actors = append(resp.Actors, actorResponse{Name: c.Name()})
	}
	return resp
}

// respondServiceError maps error kinds to status codes. validationStatus
// differs between query endpoints (400) and body endpoints (422).
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error, validationStatus int) {
	validationCode := "BAD_REQUEST"
	if validationStatus == http.StatusUnprocessableEntity {
		validationCode = "UNPROCESSABLE_ENTITY"
	}
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		s.respondErrorDetails(w, validationStatus, validationCode, "validation failed", verr.Fields)
	case errors.Is(err, domain.ErrValidation):
		s.respondError(w, validationStatus, validationCode, err.Error())
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		s.logger.DebugContext(r.Context(), "client went away", slog.Any("error", err))
		w.WriteHeader(statusClientClosedRequest)
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "movie not found")
	case errors.Is(err, domain.ErrServiceUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "movie provider unavailable, try again later")
	case errors.Is(err, domain.ErrMapping):
		s.logger.ErrorContext(r.Context(), "provider payload rejected", slog.Any("error", err))
		s.respondError(w, http.StatusBadGateway, "BAD_GATEWAY", "movie provider returned an unusable record")
	default:
		s.logger.ErrorContext(r.Context(), "request failed", slog.Any("error", err))
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", slog.Any("error", err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{Code: code, Message: message})
}

func (s *Server) respondErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	s.respondJSON(w, status, errorResponse{Code: code, Message: message, Details: details})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		s.respondError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		s.respondError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", "malformed JSON body")
	case errors.As(err, &typeErr):
		s.respondErrorDetails(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", "invalid field type",
			map[string]string{typeErr.Field: "has the wrong type"})
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", "request body is empty")
	default:
		s.respondError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", err.Error())
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
