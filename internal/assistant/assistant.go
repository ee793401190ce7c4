// Package assistant generates customer-facing replies and lead summaries via
// the OpenAI chat completions API.
package assistant

import (
	"context"

	"github.com/EZEN13/vk-travel-bot/internal/store"
)

// Reply is the assistant's answer with the hand-off signal already separated
// from the customer-facing text.
type Reply struct {
	Text       string
	WantsHuman bool
}

// LeadSummary is the structured digest sent to the manager channel.
type LeadSummary struct {
	Destination   string `json:"destination"`
	Dates         string `json:"dates"`
	Preferences   string `json:"preferences"`
	PartySize     string `json:"party_size"`
	Budget        string `json:"budget"`
	DepartureCity string `json:"departure_city"`
	Details       string `json:"details"`
}

// Assistant is the language-model backend of the conversation pipeline.
type Assistant interface {
	Reply(ctx context.Context, text, userName string, history []store.Message) (Reply, error)
	Summarize(ctx context.Context, history []store.Message, current string) (LeadSummary, error)
	ExtractContactPreference(ctx context.Context, text string) (string, error)
}
