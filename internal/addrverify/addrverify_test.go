package addrverify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"10 Main St , Boston MA":      "10 main st, boston ma",
		"  10  MAIN\tST,Boston  MA  ": "10 main st,boston ma",
		"APT. 2 ; Springfield":        "apt. 2; springfield",
		"":                            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "%q", in)
	}
	assert.Equal(t, "unit 5", Normalize("\uff35\uff4e\uff49\uff54 \uff15"), "full-width forms fold")
}

func TestNearMatch(t *testing.T) {
	input := "10 Main St , Boston MA 02110"
	suggestions := []Suggestion{
		{GlobalAddressKey: "k1", Text: "10 Main St Apt 1, Boston MA 02110"},
		{GlobalAddressKey: "k2", Text: "10 MAIN ST, BOSTON MA 02110"},
	}
	got, ok := NearMatch(input, suggestions)
	require.True(t, ok)
	assert.Equal(t, "k2", got.GlobalAddressKey)

	suggestions = append(suggestions, Suggestion{GlobalAddressKey: "k3", Text: "10 main st,  boston ma 02110"})
	_, ok = NearMatch(input, suggestions)
	assert.False(t, ok, "two equal suggestions are ambiguous")

	_, ok = NearMatch(input, nil)
	assert.False(t, ok)
}

func TestFormattedAddress_Address(t *testing.T) {
	a := FormattedAddress{
		AddressLine1: "10 Main St",
		AddressLine2: "Apt 2",
		AddressLine3: "Rear",
		Locality:     "Boston",
		Region:       "MA",
		PostalCode:   "02110-1234",
		Country:      "USA",
	}.Address()
	assert.Equal(t, "Apt 2 Rear", a.Line2)
	assert.Equal(t, "02110-1234", a.Zip)
	assert.Equal(t, "Boston", a.City)
}

func newServer(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "tok", time.Second)
}

func TestHTTPClient_Search(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("Auth-Token"))

		var req map[string]any
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "USA", req["country"])
		assert.Equal(t, map[string]any{"unspecified": []any{"10 Main St", "Boston MA 02110"}}, req["components"])

		_, _ = io.WriteString(w, `{"result":{"confidence":"MULTIPLE_MATCHES","suggestions":[
			{"global_address_key":"k1","text":"10 Main St, Boston MA 02110"}]}}`)
	})

	res, err := c.Search(context.Background(), []string{"10 Main St", "Boston MA 02110"})
	require.NoError(t, err)
	assert.Equal(t, MultipleMatches, res.Confidence)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "k1", res.Suggestions[0].GlobalAddressKey)
}

func TestHTTPClient_Format(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/format", r.URL.Path)
		assert.Equal(t, "a b/c", r.URL.Query().Get("key"))
		_, _ = io.WriteString(w, `{"result":{"address":{"address_line_1":"10 Main St","locality":"Boston","region":"MA","postal_code":"02110","country":"USA"}}}`)
	})

	a, err := c.Format(context.Background(), "a b/c")
	require.NoError(t, err)
	assert.Equal(t, "10 Main St", a.AddressLine1)
	assert.Equal(t, "02110", a.PostalCode)
}

func TestHTTPClient_IntegrationErrors(t *testing.T) {
	for name, h := range map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		},
		"undecodable": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "<html>")
		},
		"no result": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{}`)
		},
	} {
		t.Run(name, func(t *testing.T) {
			c := newServer(t, h)
			_, err := c.Search(context.Background(), []string{"x"})
			assert.ErrorIs(t, err, ErrIntegration)
			_, err = c.Format(context.Background(), "k")
			assert.ErrorIs(t, err, ErrIntegration)
		})
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	_, err := NewHTTPClient(srv.URL, "", time.Second).Search(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrIntegration)
}

func TestFake(t *testing.T) {
	f := NewFake().
		OnSearch([]string{"a"}, &SearchResult{Confidence: VerifiedMatch, Suggestions: []Suggestion{{GlobalAddressKey: "k"}}}).
		OnFormat("k", FormattedAddress{AddressLine1: "A"}).
		FailSearch([]string{"down"}, ErrIntegration)
	ctx := context.Background()

	res, err := f.Search(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, VerifiedMatch, res.Confidence)

	res, err = f.Search(ctx, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, NoMatches, res.Confidence)

	_, err = f.Search(ctx, []string{"down"})
	assert.ErrorIs(t, err, ErrIntegration)

	a, err := f.Format(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "A", a.AddressLine1)
	_, err = f.Format(ctx, "missing")
	assert.ErrorIs(t, err, ErrIntegration)

	assert.Len(t, f.Searches(), 3)
}
