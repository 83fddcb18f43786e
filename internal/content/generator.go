package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"golang.org/x/text/language"
)

// Progress receives checkpoint updates while content is produced.
type Progress interface {
	Update(ctx context.Context, percent int, message string)
}

type Options struct {
	DefaultStyle string
	Temperature  float64
	Logger       *slog.Logger
}

// Generator turns a topic request into a validated Script.
type Generator struct {
	llm  llm.Generator
	opts Options
	log  *slog.Logger
}

// Detection is the result of language detection.
type Detection struct {
	LanguageCode string
	Confidence   float64
}

func New(gen llm.Generator, opts Options) *Generator {
	if opts.DefaultStyle == "" {
		opts.DefaultStyle = "casual"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Generator{llm: gen, opts: opts, log: logger.With(slog.String("component", "content"))}
}

// Generate produces a complete script or fails with podcast.ErrValidation. No partial
// script is ever returned.
func (g *Generator) Generate(ctx context.Context, req podcast.Request, progress Progress) (podcast.Script, error) {
	if progress == nil {
		progress = noopProgress{}
	}
	if strings.TrimSpace(req.Topic) == "" {
		return podcast.Script{}, podcast.Validationf("topic must not be empty")
	}

	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		progress.Update(ctx, 5, "Detecting language...")
		det, err := g.DetectLanguage(ctx, req.Topic)
		if err != nil {
			return podcast.Script{}, err
		}
		lang = det.LanguageCode
		g.log.Info("language detected", slog.String("language", lang), slog.Float64("confidence", det.Confidence))
	} else {
		canonical, ok := canonicalLocale(lang)
		if !ok {
			return podcast.Script{}, podcast.Validationf("language %q is not a valid locale", lang)
		}
		lang = canonical
	}

	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = g.opts.DefaultStyle
	}

	progress.Update(ctx, 9, "Generating podcast metadata...")
	resp, err := g.llm.Complete(ctx, llm.Request{
		Name:        "podcast",
		System:      systemPrompt,
		Prompt:      buildPodcastPrompt(req, lang, style),
		Schema:      podcastSchema,
		JSON:        true,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		return podcast.Script{}, fmt.Errorf("generate podcast content: %w", err)
	}

	script, err := Parse([]byte(resp.Content), lang)
	if err != nil {
		return podcast.Script{}, err
	}
	g.log.Info("podcast content generated",
		slog.String("title", script.Metadata.Title),
		slog.Int("people", len(script.Metadata.People)),
		slog.Int("turns", len(script.Turns)),
	)
	progress.Update(ctx, 10, "Generating podcast content...")
	return script, nil
}

type detectionWire struct {
	Lang       string  `json:"lang"`
	Confidence float64 `json:"confidence"`
}

// DetectLanguage asks the generative collaborator for the language of text.
func (g *Generator) DetectLanguage(ctx context.Context, text string) (Detection, error) {
	resp, err := g.llm.Complete(ctx, llm.Request{
		Name:   llm.NameDetectLanguage,
		Prompt: fmt.Sprintf(detectPrompt, text),
		Schema: detectSchema,
		JSON:   true,
	})
	if err != nil {
		return Detection{}, fmt.Errorf("detect language: %w", err)
	}
	var wire detectionWire
	if err := json.Unmarshal(stripFences(resp.Content), &wire); err != nil {
		return Detection{}, podcast.Validationf("malformed language detection response: %v", err)
	}
	code, ok := canonicalLocale(wire.Lang)
	if !ok {
		return Detection{}, podcast.Validationf("detected language %q is not a valid locale", wire.Lang)
	}
	return Detection{LanguageCode: code, Confidence: wire.Confidence}, nil
}

type scriptWire struct {
	Title         string         `json:"podcastTitle"`
	Description   string         `json:"podcastDescription"`
	EpisodeTitle  string         `json:"episodeTitle"`
	EpisodeNumber *episodeNumber `json:"episodeNumber"`
	Language      *string        `json:"language"`
	Tags          *[]string      `json:"tags"`
	People        []personWire   `json:"people"`
	Conversation  []turnWire     `json:"conversation"`
}

type personWire struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Country     *string `json:"country"`
	Gender      string  `json:"gender"`
	Interviewer bool    `json:"interviewer"`
}

type turnWire struct {
	Speaker        string              `json:"speaker"`
	Text           string              `json:"text"`
	Pronunciations []pronunciationWire `json:"pronunciations"`
}

type pronunciationWire struct {
	Word     string `json:"word"`
	IPA      string `json:"ipa"`
	Phonetic string `json:"phonetic"`
}

// episodeNumber accepts both "3" and 3.
type episodeNumber int

func (n *episodeNumber) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("episode number %q: %w", raw, err)
	}
	*n = episodeNumber(v)
	return nil
}

// Parse decodes and validates a generated script. Keys the schema requires must be
// present; fallbackLanguage is used only when the response language is blank. Every
// problem found is reported together.
func Parse(data []byte, fallbackLanguage string) (podcast.Script, error) {
	var wire scriptWire
	if err := json.Unmarshal(stripFences(string(data)), &wire); err != nil {
		return podcast.Script{}, podcast.Validationf("malformed podcast content: %v", err)
	}

	var problems []error
	problemf := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(wire.Title) == "" {
		problemf("podcast title is empty")
	}
	if strings.TrimSpace(wire.Description) == "" {
		problemf("podcast description is empty")
	}
	if strings.TrimSpace(wire.EpisodeTitle) == "" {
		problemf("episode title is empty")
	}

	if wire.EpisodeNumber == nil {
		problemf("episode number is missing")
	}
	if wire.Tags == nil {
		problemf("tags are missing")
	}

	lang := fallbackLanguage
	switch {
	case wire.Language == nil:
		problemf("language is missing")
	case strings.TrimSpace(*wire.Language) != "":
		if code, ok := canonicalLocale(*wire.Language); ok {
			lang = code
		} else {
			problemf("language %q is not a valid locale", *wire.Language)
		}
	}

	if len(wire.People) == 0 {
		problemf("no people declared")
	}
	people := make([]podcast.Person, 0, len(wire.People))
	ids := make(map[string]struct{}, len(wire.People))
	for i, p := range wire.People {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			problemf("person %d has an empty id", i)
		} else if _, dup := ids[id]; dup {
			problemf("person id %q is declared more than once", id)
		}
		ids[id] = struct{}{}
		name := strings.TrimSpace(p.Name)
		if name == "" {
			problemf("person %q has an empty name", id)
		}
		gender, ok := podcast.ParseGender(p.Gender)
		if !ok {
			problemf("person %q has unsupported gender %q", id, p.Gender)
		}
		var locale string
		if p.Country == nil {
			problemf("person %q has no country", id)
		} else if locale, ok = canonicalLocale(*p.Country); !ok {
			problemf("person %q has invalid locale %q", id, *p.Country)
		}
		people = append(people, podcast.Person{
			ID:          id,
			Name:        name,
			Locale:      locale,
			Gender:      gender,
			Interviewer: p.Interviewer,
		})
	}

	if len(wire.Conversation) == 0 {
		problemf("conversation is empty")
	}
	turns := make([]podcast.Turn, 0, len(wire.Conversation))
	for i, t := range wire.Conversation {
		speaker := strings.TrimSpace(t.Speaker)
		if _, ok := ids[speaker]; !ok || speaker == "" {
			problemf("turn %d references undeclared speaker %q", i, t.Speaker)
		}
		text := strings.TrimSpace(t.Text)
		if text == "" {
			problemf("turn %d has empty text", i)
		}
		var hints []podcast.Pronunciation
		for _, h := range t.Pronunciations {
			if strings.TrimSpace(h.Word) == "" {
				continue
			}
			hints = append(hints, podcast.Pronunciation{Word: h.Word, IPA: h.IPA, Phonetic: h.Phonetic})
		}
		turns = append(turns, podcast.Turn{Ordinal: i, SpeakerID: speaker, Text: text, Pronunciations: hints})
	}

	if len(problems) > 0 {
		return podcast.Script{}, fmt.Errorf("%w: %w", podcast.ErrValidation, errors.Join(problems...))
	}

	return podcast.Script{
		Metadata: podcast.Metadata{
			Title:         strings.TrimSpace(wire.Title),
			Description:   strings.TrimSpace(wire.Description),
			EpisodeTitle:  strings.TrimSpace(wire.EpisodeTitle),
			EpisodeNumber: int(*wire.EpisodeNumber),
			Tags:          podcast.NormalizeTags(*wire.Tags),
			Language:      lang,
			People:        people,
		},
		Turns: turns,
	}, nil
}

// canonicalLocale parses a BCP 47 tag and returns its canonical form.
func canonicalLocale(code string) (string, bool) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return "", false
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return "", false
	}
	return tag.String(), true
}

// stripFences removes a surrounding markdown code fence some models add to JSON output.
func stripFences(s string) []byte {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return []byte(strings.TrimSpace(s))
}

type noopProgress struct{}

func (noopProgress) Update(context.Context, int, string) {}
