package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
)

type cli struct {
	Port   string `help:"Port to listen on." default:"9099" env:"PORT"`
	Data   string `help:"Path to the fixture file." default:"cmd/omdb-mock/fixtures.json" type:"path"`
	APIKey string `help:"API key clients must send; empty accepts any key." name:"api-key" env:"OMDB_API_KEY"`
	Log    bool   `help:"Enable request logging."`
}

// fixture is the subset of an OMDb record the mock matches on. The raw
// payload is served back untouched.
type fixture struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	ImdbID string `json:"imdbID"`
	raw    json.RawMessage
}

type catalogue struct {
	byID    map[string]fixture
	byTitle map[string][]fixture
}

func loadCatalogue(path string) (*catalogue, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(file, &raws); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	c := &catalogue{byID: map[string]fixture{}, byTitle: map[string][]fixture{}}
	for i, raw := range raws {
		var f fixture
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("fixture %d: %w", i, err)
		}
		if f.ImdbID == "" {
			return nil, fmt.Errorf("fixture %d: imdbID is required", i)
		}
		f.raw = raw
		c.byID[f.ImdbID] = f
		key := strings.ToLower(strings.TrimSpace(f.Title))
		c.byTitle[key] = append(c.byTitle[key], f)
	}
	return c, nil
}

func (c *catalogue) lookup(id, title, year string) (fixture, bool) {
	if id != "" {
		f, ok := c.byID[id]
		return f, ok
	}
	for _, f := range c.byTitle[strings.ToLower(strings.TrimSpace(title))] {
		if year == "" || f.Year == year {
			return f, true
		}
	}
	return fixture{}, false
}

func newHandler(c *catalogue, apiKey string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if logger != nil {
			logger.Info("request", slog.String("query", r.URL.RawQuery))
		}
		if apiKey != "" && q.Get("apikey") != apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"Response": "False", "Error": "Invalid API key!"})
			return
		}
		id, title, year := q.Get("i"), q.Get("t"), q.Get("y")
		if id == "" && title == "" {
			writeJSON(w, http.StatusOK, map[string]string{"Response": "False", "Error": "Incorrect IMDb ID."})
			return
		}
		if year != "" {
			if _, err := strconv.Atoi(year); err != nil {
				writeJSON(w, http.StatusOK, map[string]string{"Response": "False", "Error": "Movie not found!"})
				return
			}
		}
		f, ok := c.lookup(id, title, year)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]string{"Response": "False", "Error": "Movie not found!"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(f.raw)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func main() {
	var args cli
	kong.Parse(&args,
		kong.Name("omdb-mock"),
		kong.Description("Serves OMDb-shaped fixtures for local development."),
		kong.UsageOnError(),
	)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	c, err := loadCatalogue(args.Data)
	if err != nil {
		logger.Error("load fixtures", slog.Any("error", err))
		os.Exit(1)
	}

	var reqLogger *slog.Logger
	if args.Log {
		reqLogger = logger
	}
	addr := ":" + args.Port
	logger.Info("mock omdb listening", slog.String("addr", addr), slog.Int("fixtures", len(c.byID)))
	if err := http.ListenAndServe(addr, newHandler(c, args.APIKey, reqLogger)); err != nil {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
