// Package jokes serves random developer jokes from a fixed corpus.
package jokes

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joelklabo/shep/internal/domain"
)

// Corpus is the ordered list of selectable entries. It is never mutated once built.
type Corpus []string

var builtin = Corpus{
	"Why do programmers prefer dark mode? Because light attracts bugs.",
	"There are only 10 kinds of people in this world: those who understand binary and those who don't.",
	"A SQL query walks into a bar, walks up to two tables and asks: can I join you?",
	"I would tell you a UDP joke, but you might not get it.",
	"Why did the developer go broke? Because he used up all his cache.",
	"How many programmers does it take to change a light bulb? None, that's a hardware problem.",
	"It works on my machine. Then we'll ship your machine.",
	"Debugging: being the detective in a crime movie where you are also the murderer.",
	"There are two hard things in computer science: cache invalidation, naming things, and off-by-one errors.",
	"A programmer's partner says: buy a loaf of bread, and if they have eggs, buy a dozen. They come back with 12 loaves.",
	"Why do Java developers wear glasses? Because they don't C#.",
	"!false: it's funny because it's true.",
	"I've got a really good UDP joke to tell you, but I don't know if you'll get it.",
	"Knock knock. Race condition. Who's there?",
	"git commit -m 'fixed it for real this time'",
}

// DefaultCorpus returns a copy of the built-in joke list.
func DefaultCorpus() Corpus {
	return builtin.clone()
}

// LoadCorpus reads a YAML list of strings from path. Empty files, empty lists
// and blank entries are configuration errors.
func LoadCorpus(path string) (Corpus, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var entries []string
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: corpus %s has no entries", domain.ErrConfiguration, path)
	}
	for i, e := range entries {
		if strings.TrimSpace(e) == "" {
			return nil, fmt.Errorf("%w: corpus %s entry %d is blank", domain.ErrConfiguration, path, i)
		}
	}
	return Corpus(entries), nil
}

func (c Corpus) clone() Corpus {
	out := make(Corpus, len(c))
	copy(out, c)
	return out
}
