package httpserver

import (
	"net/url"
	"testing"
)

func TestParseMovieQuery(t *testing.T) {
	values, _ := url.ParseQuery("title= Inception &year=2010&limit=50")

	q, problems := parseMovieQuery(values)
	if problems != nil {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if q.Title != "Inception" {
		t.Fatalf("title not trimmed: %q", q.Title)
	}
	if q.Year == nil || *q.Year != 2010 {
		t.Fatalf("year parse failed: %+v", q.Year)
	}
	if q.Limit != 50 {
		t.Fatalf("limit not parsed: %d", q.Limit)
	}
}

func TestParseMovieQuery_Optional(t *testing.T) {
	q, problems := parseMovieQuery(url.Values{})
	if problems != nil {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if q.Title != "" || q.Year != nil || q.Limit != 0 {
		t.Fatalf("expected zero query, got %+v", q)
	}
}

func TestParseMovieQuery_Invalid(t *testing.T) {
	cases := map[string]string{
		"year=abc":   "year",
		"year=20.5":  "year",
		"limit=0":    "limit",
		"limit=101":  "limit",
		"limit=many": "limit",
	}
	for raw, field := range cases {
		values, _ := url.ParseQuery(raw)
		_, problems := parseMovieQuery(values)
		if _, ok := problems[field]; !ok {
			t.Fatalf("%s: expected problem for %s, got %v", raw, field, problems)
		}
	}
}
