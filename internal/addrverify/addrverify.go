// Package addrverify talks to the address verification service.
//
// A search returns a confidence level and ranked suggestions; each
// suggestion carries an opaque key that a second format call turns into a
// structured address.
package addrverify

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/disburse/internal/model"
)

// Confidence is the service's verdict on a search.
type Confidence string

const (
	VerifiedMatch       Confidence = "VERIFIED_MATCH"
	MultipleMatches     Confidence = "MULTIPLE_MATCHES"
	InteractionRequired Confidence = "INTERACTION_REQUIRED"
	PremisesPartial     Confidence = "PREMISES_PARTIAL"
	StreetPartial       Confidence = "STREET_PARTIAL"
	NoMatches           Confidence = "NO_MATCHES"
)

// Suggestion is one candidate address.
type Suggestion struct {
	GlobalAddressKey string `json:"global_address_key"`
	Text             string `json:"text"`
}

// SearchResult is the answer to a search.
type SearchResult struct {
	Confidence  Confidence   `json:"confidence"`
	Suggestions []Suggestion `json:"suggestions"`
}

// FormattedAddress is the structured address returned by a format call.
type FormattedAddress struct {
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2"`
	AddressLine3 string `json:"address_line_3"`
	Locality     string `json:"locality"`
	Region       string `json:"region"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

// Address converts to the model type, folding line 3 into line 2.
func (f FormattedAddress) Address() model.Address {
	line2 := strings.TrimSpace(strings.Join(strings.Fields(f.AddressLine2+" "+f.AddressLine3), " "))
	return model.Address{
		Line1:   strings.TrimSpace(f.AddressLine1),
		Line2:   line2,
		City:    strings.TrimSpace(f.Locality),
		State:   strings.TrimSpace(f.Region),
		Zip:     strings.TrimSpace(f.PostalCode),
		Country: strings.TrimSpace(f.Country),
	}
}

// Client is the verification service.
type Client interface {
	Search(ctx context.Context, lines []string) (*SearchResult, error)
	Format(ctx context.Context, globalAddressKey string) (*FormattedAddress, error)
}

// ErrIntegration wraps every failure to get a usable answer from the
// service: transport errors, non-2xx statuses and undecodable bodies.
var ErrIntegration = errors.New("address verification unavailable")

// Normalize prepares address text for near-match comparison: compatibility
// normalisation, lower case, no whitespace before punctuation, and single
// spaces.
func Normalize(s string) string {
	s = cases.Lower(language.Und).String(norm.NFKC.String(s))
	var b strings.Builder
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsPunct(r):
			pendingSpace = false
			b.WriteRune(r)
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NearMatch returns the single suggestion whose normalised text equals the
// normalised input. Zero or several equal suggestions is no match.
func NearMatch(input string, suggestions []Suggestion) (Suggestion, bool) {
	want := Normalize(input)
	var found []Suggestion
	for _, s := range suggestions {
		if Normalize(s.Text) == want {
			found = append(found, s)
		}
	}
	if len(found) != 1 {
		return Suggestion{}, false
	}
	return found[0], true
}
