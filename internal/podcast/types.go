package podcast

import (
	"strings"
)

// Gender is the normalized speaker or voice gender.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderNeutral Gender = "neutral"
)

// ParseGender normalizes the loose gender strings generative backends and voice
// catalogs produce. The second return value is false for anything unrecognized.
func ParseGender(value string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "male", "m", "man", "masculine":
		return GenderMale, true
	case "female", "f", "woman", "feminine":
		return GenderFemale, true
	case "neutral", "n", "nonbinary", "non-binary", "unspecified", "ssml_voice_gender_unspecified":
		return GenderNeutral, true
	default:
		return "", false
	}
}

// Person is a declared speaker, scoped to a single generation run.
type Person struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Locale      string `json:"locale"`
	Gender      Gender `json:"gender"`
	Interviewer bool   `json:"interviewer"`
}

// Pronunciation is a hint for a word the synthesizer may mispronounce.
type Pronunciation struct {
	Word     string `json:"word"`
	IPA      string `json:"ipa,omitempty"`
	Phonetic string `json:"phonetic,omitempty"`
}

// Turn is one line of dialogue. Start and End are nil until the audio is assembled.
type Turn struct {
	Ordinal        int             `json:"ordinal"`
	SpeakerID      string          `json:"speaker_id"`
	Text           string          `json:"text"`
	Pronunciations []Pronunciation `json:"pronunciations,omitempty"`
	Start          *float64        `json:"start_time,omitempty"`
	End            *float64        `json:"end_time,omitempty"`
}

// Metadata describes the podcast and its cast.
type Metadata struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	EpisodeTitle  string   `json:"episode_title"`
	EpisodeNumber int      `json:"episode_number"`
	Tags          []string `json:"tags"`
	Language      string   `json:"language"`
	People        []Person `json:"people"`
}

// Script is a validated generation result: metadata plus the ordered conversation.
type Script struct {
	Metadata Metadata `json:"metadata"`
	Turns    []Turn   `json:"turns"`
}

// Person looks up a declared speaker by id.
func (s Script) Person(id string) (Person, bool) {
	for _, p := range s.Metadata.People {
		if p.ID == id {
			return p, true
		}
	}
	return Person{}, false
}

// NormalizeTags trims, lower-cases and de-duplicates tags, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Request is what a caller submits to start a generation run.
type Request struct {
	Topic       string `json:"topic"`
	Language    string `json:"language,omitempty"`
	Style       string `json:"style,omitempty"`
	Description string `json:"description,omitempty"`
}
