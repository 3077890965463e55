package pipeline

import (
	"fmt"
	"strings"

	"github.com/illmade-knight/go-blogflow/pkg/batching"
)

const imageDescribeInstruction = "Describe this image in detail: what is shown, " +
	"the setting, colours and atmosphere. Write plain prose suitable for a blog post."

const synthesisPreamble = `You are writing a single coherent blog article from a user's notes and media descriptions, listed in the order they arrived.
Merge them into one flowing article. Do not mention that the input was a list of notes.

Input:
`

const queryExtractionPreamble = `Extract up to 3 short web search queries that would find useful background information for the following blog material.
Output one query per line, nothing else, most relevant first. Each query must be under 80 characters.

Material:
`

// buildSynthesisPrompt concatenates the enriched items, preserving arrival
// order, into the prompt for the batch-synthesis stage.
func buildSynthesisPrompt(items []*batching.PendingItem) string {
	var b strings.Builder
	b.WriteString(synthesisPreamble)
	for _, item := range items {
		switch item.Kind {
		case batching.KindText:
			fmt.Fprintf(&b, "[note] %s\n", item.Text)
		case batching.KindImage:
			fmt.Fprintf(&b, "[image description] %s\n", item.Description)
		case batching.KindVideo:
			desc := item.Description
			if desc == "" {
				desc = "a short video posted by the author"
			}
			fmt.Fprintf(&b, "[video] %s\n", desc)
		}
	}
	return b.String()
}

func buildQueryExtractionPrompt(items []*batching.PendingItem) string {
	var b strings.Builder
	b.WriteString(queryExtractionPreamble)
	for _, item := range items {
		if item.Kind == batching.KindText {
			b.WriteString(item.Text)
		} else {
			b.WriteString(item.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
