package yelp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/tools"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL + "/v3/", Timeout: time.Second})
	require.NoError(t, err)
	c.httpClient = srv.Client()
	return c
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/businesses/search", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "tacos", r.URL.Query().Get("term"))
		assert.Equal(t, "Austin, TX", r.URL.Query().Get("location"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"total":2,"businesses":[
			{"id":"taco-deli","name":"Taco Deli","rating":4.5,"review_count":120,"price":"$",
			 "categories":[{"title":"Tacos"}],"location":{"display_address":["1500 Spyglass Dr","Austin, TX"]}},
			{"id":"","name":"broken"}]}`))
	})

	res, err := c.Search(context.Background(), tools.SearchQuery{Term: "tacos", Location: "Austin, TX", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	require.Len(t, res.Businesses, 1)
	biz := res.Businesses[0]
	assert.Equal(t, "taco-deli", biz.ID)
	assert.Equal(t, "1500 Spyglass Dr, Austin, TX", biz.Address)
	assert.Equal(t, []string{"Tacos"}, biz.Categories)
}

func TestSearchRequiresTermAndLocation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	_, err := c.Search(context.Background(), tools.SearchQuery{Term: "tacos"})
	assert.Equal(t, xerrors.CodeMalformedRequest, xerrors.CodeOf(err))
}

func TestFetchDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v3/businesses/gone" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":"taco-deli","name":"Taco Deli","display_phone":"(512) 555-0100",
			"url":"https://yelp.example/taco-deli","transactions":["pickup"],
			"hours":[{"is_open_now":true,"open":[{"day":0,"start":"0700","end":"1500"}]}]}`))
	})

	d, err := c.FetchDetails(context.Background(), "taco-deli")
	require.NoError(t, err)
	assert.True(t, d.Found)
	assert.True(t, d.IsOpenNow)
	assert.Equal(t, []string{"Mon 07:00-15:00"}, d.Hours)
	assert.Equal(t, "(512) 555-0100", d.Phone)

	d, err = c.FetchDetails(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, d.Found)
	assert.Equal(t, "gone", d.BusinessID)
}

func TestAnalyzeSentiment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/businesses/taco-deli/reviews", r.URL.Path)
		_, _ = w.Write([]byte(`{"reviews":[{"rating":5,"text":"Best migas."},{"rating":4,"text":"Long line."},{"rating":5,"text":""}]}`))
	})

	rep, err := c.AnalyzeSentiment(context.Background(), "taco-deli")
	require.NoError(t, err)
	assert.Equal(t, 3, rep.ReviewCount)
	assert.Equal(t, "positive", rep.Label)
	assert.InDelta(t, 0.8333, rep.Score, 0.001)
	assert.Equal(t, []string{"Best migas.", "Long line."}, rep.Highlights)
}

func TestStatusClassification(t *testing.T) {
	cases := map[int]xerrors.Code{
		http.StatusTooManyRequests:     xerrors.CodeRateLimited,
		http.StatusUnauthorized:        xerrors.CodeToolAuth,
		http.StatusForbidden:           xerrors.CodeToolAuth,
		http.StatusBadRequest:          xerrors.CodeMalformedRequest,
		http.StatusUnprocessableEntity: xerrors.CodeMalformedRequest,
		http.StatusBadGateway:          xerrors.CodeToolTransient,
		http.StatusServiceUnavailable:  xerrors.CodeToolTransient,
	}
	for status, code := range cases {
		status := status
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"code":"X"}}`))
		})
		_, err := c.FetchDetails(context.Background(), "any")
		assert.Equal(t, code, xerrors.CodeOf(err), "status %d", status)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Equal(t, xerrors.CodeInitFailure, xerrors.CodeOf(err))
}
