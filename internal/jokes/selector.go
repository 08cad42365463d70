package jokes

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/joelklabo/shep/internal/domain"
)

// ErrEmptyCorpus is returned by Select when the selector was built without entries.
var ErrEmptyCorpus = fmt.Errorf("%w: joke corpus is empty", domain.ErrConfiguration)

// Source yields uniform values in [0, 1). It must be safe for concurrent use if
// the Selector is shared between goroutines.
type Source func() float64

// Selector picks one corpus entry per call, uniformly and with replacement.
type Selector struct {
	corpus Corpus
	source Source
}

// Option configures a Selector.
type Option func(*Selector)

// WithSource replaces the default math/rand/v2 source.
func WithSource(src Source) Option {
	return func(s *Selector) {
		if src != nil {
			s.source = src
		}
	}
}

// NewSelector builds a Selector over a private copy of corpus.
func NewSelector(corpus Corpus, opts ...Option) *Selector {
	s := &Selector{corpus: corpus.clone(), source: rand.Float64}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns corpus[floor(r*n)] for one draw r of the source.
func (s *Selector) Select() (string, error) {
	n := len(s.corpus)
	if n == 0 {
		return "", ErrEmptyCorpus
	}
	return s.corpus[index(s.source(), n)], nil
}

// Len reports the corpus size.
func (s *Selector) Len() int { return len(s.corpus) }

// Corpus returns a copy of the jokes the selector draws from.
func (s *Selector) Corpus() Corpus { return s.corpus.clone() }

// index maps r onto [0, n-1]; out-of-range draws are clamped.
func index(r float64, n int) int {
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r >= 1 {
		return n - 1
	}
	i := int(math.Floor(r * float64(n)))
	if i >= n {
		return n - 1
	}
	return i
}
