package practice

import (
	"sort"
	"sync"
)

// Tracker tallies which vocabulary items a child has said during one lesson.
// It is safe for concurrent use.
type Tracker struct {
	spotter *Spotter

	mu         sync.Mutex
	vocabulary []string
	counts     map[string]int
}

// NewTracker returns a Tracker that uses spotter. A nil spotter uses the
// defaults.
func NewTracker(spotter *Spotter) *Tracker {
	if spotter == nil {
		spotter = New()
	}
	return &Tracker{spotter: spotter, counts: make(map[string]int)}
}

// Reset replaces the vocabulary and clears the tally.
func (t *Tracker) Reset(vocabulary []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vocabulary = append([]string(nil), vocabulary...)
	t.counts = make(map[string]int)
}

// Observe spots vocabulary in utterance, records it and returns the hits.
func (t *Tracker) Observe(utterance string) []Hit {
	t.mu.Lock()
	vocab := t.vocabulary
	t.mu.Unlock()

	hits := t.spotter.Spot(utterance, vocab)
	if len(hits) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, h := range hits {
		t.counts[h.Word]++
	}
	return hits
}

// Count is the number of times one word was heard.
type Count struct {
	Word  string `json:"word"`
	Times int    `json:"times"`
}

// Practiced returns the words heard so far, most frequent first.
func (t *Tracker) Practiced() []Count {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Count, 0, len(t.counts))
	for w, n := range t.counts {
		out = append(out, Count{Word: w, Times: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Times != out[j].Times {
			return out[i].Times > out[j].Times
		}
		return out[i].Word < out[j].Word
	})
	return out
}

// Remaining returns vocabulary items not yet heard, in curriculum order.
func (t *Tracker) Remaining() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, w := range t.vocabulary {
		if t.counts[w] == 0 {
			out = append(out, w)
		}
	}
	return out
}
