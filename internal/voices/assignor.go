package voices

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/tts"
)

// DefaultFamily is the voice family used when none is configured.
const DefaultFamily = "Chirp3"

// Assignment maps person ids to the voice each will speak with.
type Assignment map[string]tts.Voice

// Assignor picks a distinct voice for every declared person.
type Assignor struct {
	catalog tts.Catalog
	family  string
	rnd     *rand.Rand
}

// NewAssignor builds an Assignor. An empty family disables the family filter and a nil
// rnd is replaced with a time-seeded source.
func NewAssignor(catalog tts.Catalog, family string, rnd *rand.Rand) *Assignor {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Assignor{catalog: catalog, family: family, rnd: rnd}
}

// Assign draws an unused voice for each person in declaration order. A person whose
// gender has no voices at all falls back to the neutral bucket. Running out of unused
// voices in a bucket fails with podcast.ErrVoiceExhaustion.
func (a *Assignor) Assign(ctx context.Context, people []podcast.Person, locale string) (Assignment, error) {
	catalog, err := a.catalog.ListVoices(ctx, locale)
	if err != nil {
		return nil, fmt.Errorf("list voices for %s: %w", locale, err)
	}

	buckets := make(map[podcast.Gender][]tts.Voice)
	for _, v := range catalog {
		if a.family != "" && !strings.Contains(v.Name, a.family) {
			continue
		}
		gender := v.Gender
		if gender == "" {
			gender = podcast.GenderNeutral
		}
		buckets[gender] = append(buckets[gender], v)
	}
	for _, bucket := range buckets {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Name < bucket[j].Name })
	}

	used := make(map[string]bool)
	out := make(Assignment, len(people))
	for _, person := range people {
		if _, done := out[person.ID]; done {
			continue
		}
		gender := person.Gender
		bucket, ok := buckets[gender]
		if !ok {
			gender = podcast.GenderNeutral
			bucket = buckets[gender]
		}

		free := make([]tts.Voice, 0, len(bucket))
		for _, v := range bucket {
			if !used[v.Name] {
				free = append(free, v)
			}
		}
		if len(free) == 0 {
			return nil, fmt.Errorf("%w: no unused %s voice for %q in %s", podcast.ErrVoiceExhaustion, person.Gender, person.Name, locale)
		}
		pick := free[a.rnd.Intn(len(free))]
		used[pick.Name] = true
		out[person.ID] = pick
	}
	return out, nil
}
