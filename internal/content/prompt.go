package content

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/llm"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
)

const systemPrompt = `You write scripts for conversational audio podcasts. Respond with a single JSON object that
matches the requested schema and nothing else. Use plain text in every field: no markdown, no
SSML, no code formatting.`

const podcastPrompt = `Create a podcast episode as a friendly conversation between one interviewer and one or more guests.

Topic: %s
Language: %s
Style: %s
Background: %s

Guidelines:
- Match the tone of the conversation to the requested style.
- Explain the topic intuitively for curious students, breaking complex ideas into short answers.
- Speakers have names and address each other by first name. Guests may talk to each other too.
- Write every line in the requested language, using the script native to it; technical terms may stay in English.
- When a speaker lists steps, the same speaker reads the whole list.
- Mention the topic in the description or the episode title.
- Give each person a unique id and refer to people only by that id in the conversation.
- Add pronunciation hints (IPA and a phonetic respelling) for words a speech engine may get wrong.
- Aim for roughly twelve minutes of conversation.`

const detectPrompt = `Identify the language of the following text and answer with its BCP 47 code (for example en-US or pt-BR)
and your confidence between 0 and 1.

Text: %s`

func buildPodcastPrompt(req podcast.Request, language, style string) string {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "none given"
	}
	return fmt.Sprintf(podcastPrompt, strings.TrimSpace(req.Topic), language, style, description)
}

var detectSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"lang":       {Type: "string", Description: "BCP 47 language code such as en-US or en-GB"},
		"confidence": {Type: "number", Description: "confidence of the detection between 0 and 1"},
	},
	Required: []string{"lang", "confidence"},
}

var podcastSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"podcastTitle":       {Type: "string"},
		"podcastDescription": {Type: "string"},
		"episodeTitle":       {Type: "string"},
		"episodeNumber":      {Type: "string", Description: "episode number such as 1, 2, 3"},
		"language":           {Type: "string", Description: "BCP 47 language code such as en-US or en-GB"},
		"tags":               {Type: "array", Items: &llm.Schema{Type: "string"}},
		"people": {
			Type: "array",
			Items: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"id":          {Type: "string", Description: "unique id used to reference the person in the conversation"},
					"name":        {Type: "string"},
					"country":     {Type: "string", Description: "BCP 47 language code of the person's voice"},
					"gender":      {Type: "string", Enum: []string{"male", "female", "neutral"}},
					"interviewer": {Type: "boolean", Description: "true for the interviewer, false for guests"},
				},
				Required: []string{"id", "name", "country", "gender", "interviewer"},
			},
		},
		"conversation": {
			Type: "array",
			Items: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"speaker": {Type: "string", Description: "id of the person speaking"},
					"text":    {Type: "string"},
					"pronunciations": {
						Type: "array",
						Items: &llm.Schema{
							Type: "object",
							Properties: map[string]*llm.Schema{
								"word":     {Type: "string"},
								"ipa":      {Type: "string"},
								"phonetic": {Type: "string"},
							},
							Required: []string{"word", "ipa", "phonetic"},
						},
					},
				},
				Required: []string{"speaker", "text"},
			},
		},
	},
	Required: []string{"podcastTitle", "podcastDescription", "episodeTitle", "episodeNumber", "language", "tags", "people", "conversation"},
}
