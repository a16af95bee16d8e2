package omdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/resilience"
)

var shawshank = Response{
	Title:      "The Shawshank Redemption",
	Year:       "1994",
	ImdbID:     "tt0111161",
	Genre:      "Drama",
	Director:   "Frank Darabont",
	Actors:     "Tim Robbins, Morgan Freeman",
	Plot:       "Two imprisoned men bond over a number of years.",
	ImdbRating: "9.3",
	Response:   "True",
}

func testPolicy() resilience.Policy {
	p := resilience.DefaultPolicy()
	p.InitialBackoff = time.Millisecond
	p.AttemptTimeout = 200 * time.Millisecond
	return p
}

type recordedCall struct {
	operation, outcome string
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) ObserveProviderCall(operation, outcome string, _ time.Duration) {
	f.calls = append(f.calls, recordedCall{operation, outcome})
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Options)) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	opts := Options{BaseURL: srv.URL, APIKey: "test-key", Policy: testPolicy()}
	for _, m := range mutate {
		m(&opts)
	}
	client, err := NewClient(opts)
	require.NoError(t, err)
	return client, &hits
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresConfiguration(t *testing.T) {
	_, err := NewClient(Options{APIKey: "key"})
	require.ErrorContains(t, err, "base url")

	_, err = NewClient(Options{BaseURL: "http://localhost"})
	require.ErrorContains(t, err, "api key")
}

func TestFetchByIdentifierMapsMovie(t *testing.T) {
	rec := &fakeRecorder{}
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "tt0111161", r.URL.Query().Get("i"))
		writeJSON(w, http.StatusOK, shawshank)
	}, func(o *Options) { o.Recorder = rec })

	movie, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.NoError(t, err)
	require.NotNil(t, movie)

	assert.Equal(t, "tt0111161", movie.ID())
	assert.Equal(t, "The Shawshank Redemption", movie.Title())
	assert.Equal(t, 1994, movie.Year())
	assert.Equal(t, "Drama", movie.Genre)
	assert.Equal(t, "9.3", movie.ImdbRating)

	cast := movie.Cast()
	require.Len(t, cast, 2)
	assert.Equal(t, "Tim Robbins", cast[0].Name())
	assert.Equal(t, "Morgan Freeman", cast[1].Name())

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []recordedCall{{"by_identifier", "found"}}, rec.calls)
}

func TestFetchByTitleSendsYear(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "The Shawshank Redemption", r.URL.Query().Get("t"))
		assert.Equal(t, "1994", r.URL.Query().Get("y"))
		writeJSON(w, http.StatusOK, shawshank)
	})

	year := 1994
	movie, err := client.FetchByTitle(context.Background(), "The Shawshank Redemption", &year)
	require.NoError(t, err)
	require.NotNil(t, movie)
	assert.Equal(t, 1994, movie.Year())
}

func TestFetchByTitleOmitsMissingYear(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("y"))
		writeJSON(w, http.StatusOK, shawshank)
	})

	_, err := client.FetchByTitle(context.Background(), "The Shawshank Redemption", nil)
	require.NoError(t, err)
}

func TestFetchNoResult(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{Response: "False", Error: "Movie not found!"})
	})

	movie, err := client.FetchByIdentifier(context.Background(), "tt9999999")
	require.NoError(t, err)
	assert.Nil(t, movie)
	assert.Equal(t, int32(1), hits.Load(), "no result is not retried")
}

func TestFetchUnknownYearIsMappingError(t *testing.T) {
	payload := shawshank
	payload.Year = "unknown"
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, payload)
	})

	movie, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.ErrorIs(t, err, domain.ErrMapping)
	assert.NotErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Nil(t, movie)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchMalformedBodyIsMappingError(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Title": `))
	})

	_, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.ErrorIs(t, err, domain.ErrMapping)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRetriesServerErrorsThenUnavailable(t *testing.T) {
	rec := &fakeRecorder{}
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(o *Options) { o.Recorder = rec })

	movie, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, movie)
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, []recordedCall{{"by_identifier", "unavailable"}}, rec.calls)
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, shawshank)
	})

	movie, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.NoError(t, err)
	require.NotNil(t, movie)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchInvalidKeyIsNotRetried(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, Response{Response: "False", Error: "Invalid API key!"})
	})

	_, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.ErrorContains(t, err, "Invalid API key!")
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchProviderErrorPayloadIsUnavailable(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{Response: "False", Error: "Request limit reached!"})
	})

	_, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchUnreachableProvider(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(Options{BaseURL: url, APIKey: "key", Policy: testPolicy()})
	require.NoError(t, err)

	_, err = client.FetchByIdentifier(context.Background(), "tt0111161")
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestFetchAttemptTimeout(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, func(o *Options) {
		o.Policy.AttemptTimeout = 20 * time.Millisecond
		o.Policy.MaxAttempts = 2
	})

	_, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOpenBreakerIsUnavailable(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, func(o *Options) {
		o.Policy.MaxAttempts = 1
	})

	for i := 0; i < 7; i++ {
		_, err := client.FetchByIdentifier(context.Background(), "tt0111161")
		require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	}
	require.Equal(t, int32(7), hits.Load())

	_, err := client.FetchByIdentifier(context.Background(), "tt0111161")
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(7), hits.Load(), "open breaker must not reach the provider")
}

func TestFetchCachesResponses(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("i") == "tt0111161" {
			writeJSON(w, http.StatusOK, shawshank)
			return
		}
		writeJSON(w, http.StatusOK, Response{Response: "False", Error: "Incorrect IMDb ID."})
	}, func(o *Options) {
		o.Cache = CacheConfig{TTL: time.Minute}
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		movie, err := client.FetchByIdentifier(ctx, "tt0111161")
		require.NoError(t, err)
		require.NotNil(t, movie)

		missing, err := client.FetchByIdentifier(ctx, "tt0000000")
		require.NoError(t, err)
		assert.Nil(t, missing)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchRateLimited(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, shawshank)
	}, func(o *Options) {
		o.RequestsPerSecond = 1
		o.Burst = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.FetchByIdentifier(ctx, "tt0111161")
	require.NoError(t, err)
	_, err = client.FetchByIdentifier(ctx, "tt0111161")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRateLimitQueueingDoesNotTripBreaker(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, shawshank)
	}, func(o *Options) {
		o.RequestsPerSecond = 20
		o.Burst = 1
		o.Policy.AttemptTimeout = 20 * time.Millisecond
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.FetchByIdentifier(context.Background(), "tt00000"+strconv.Itoa(i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(callers), hits.Load())
	assert.Zero(t, client.Executor().Counts().TotalFailures)
	assert.Equal(t, gobreaker.StateClosed, client.Executor().State())
}

func TestJoinedFetchSurvivesOriginatorCancellation(t *testing.T) {
	started := make(chan struct{})
	var first atomic.Bool
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if first.CompareAndSwap(false, true) {
			close(started)
			<-r.Context().Done()
			return
		}
		writeJSON(w, http.StatusOK, shawshank)
	}, func(o *Options) {
		o.Cache = DefaultCacheConfig()
		o.Policy.AttemptTimeout = 2 * time.Second
	})

	origCtx, cancelOrig := context.WithCancel(context.Background())
	origDone := make(chan error, 1)
	go func() {
		_, err := client.FetchByIdentifier(origCtx, "tt0111161")
		origDone <- err
	}()
	<-started

	joinedDone := make(chan error, 1)
	var joined *domain.Movie
	go func() {
		m, err := client.FetchByIdentifier(context.Background(), "tt0111161")
		joined = m
		joinedDone <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancelOrig()

	require.ErrorIs(t, <-origDone, context.Canceled)
	require.NoError(t, <-joinedDone)
	require.NotNil(t, joined)
	assert.Equal(t, "tt0111161", joined.ID())
	assert.Equal(t, int32(2), hits.Load())
}
