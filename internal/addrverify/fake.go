package addrverify

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Fake is an in-memory Client. Searches are answered by the joined input
// lines; formats by suggestion key. Unknown searches get NoMatches.
type Fake struct {
	mu       sync.Mutex
	results  map[string]*SearchResult
	formats  map[string]*FormattedAddress
	failures map[string]error
	searches [][]string
}

func NewFake() *Fake {
	return &Fake{
		results:  map[string]*SearchResult{},
		formats:  map[string]*FormattedAddress{},
		failures: map[string]error{},
	}
}

// OnSearch answers a search for lines with r.
func (f *Fake) OnSearch(lines []string, r *SearchResult) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key(lines)] = r
	return f
}

// FailSearch makes a search for lines fail with err.
func (f *Fake) FailSearch(lines []string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key(lines)] = err
	return f
}

// OnFormat answers a format call for globalAddressKey with a.
func (f *Fake) OnFormat(globalAddressKey string, a FormattedAddress) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.formats[globalAddressKey] = &a
	return f
}

// Searches returns every search received, in order.
func (f *Fake) Searches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.searches...)
}

func (f *Fake) Search(_ context.Context, lines []string) (*SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, lines)
	if err := f.failures[key(lines)]; err != nil {
		return nil, err
	}
	if r, ok := f.results[key(lines)]; ok {
		return r, nil
	}
	return &SearchResult{Confidence: NoMatches}, nil
}

func (f *Fake) Format(_ context.Context, globalAddressKey string) (*FormattedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.formats[globalAddressKey]
	if !ok {
		return nil, fmt.Errorf("format %q: %w: unknown key", globalAddressKey, ErrIntegration)
	}
	return a, nil
}

func key(lines []string) string { return strings.Join(lines, "\n") }
