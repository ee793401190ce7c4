package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/EZEN13/vk-travel-bot/internal/escalation"
	"github.com/EZEN13/vk-travel-bot/internal/store"
	"github.com/EZEN13/vk-travel-bot/pkg/logging"
)

const (
	replyTimeout     = 60 * time.Second
	summaryTimeout   = 30 * time.Second
	replyMaxTokens   = 1000
	summaryMaxTokens = 500
)

const systemPrompt = `Ты — консультант туристического агентства. Отвечай кратко и дружелюбно,
помогай подобрать тур: направление, даты, бюджет, состав группы, город вылета.
Если клиент просит связаться с живым менеджером или оператором, добавь в конец
ответа метку ` + escalation.HumanRequestMarker + ` — клиент её не увидит.`

const summaryPrompt = `Составь краткую сводку заявки по переписке с клиентом.
Ответь строго JSON-объектом с полями: destination, dates, preferences,
party_size, budget, departure_city, details. Неизвестные поля оставь пустыми строками.`

const contactPrompt = `Определи по сообщению клиента, как ему удобнее получить ответ
(например: "позвонить", "написать в VK", "WhatsApp"). Ответь одной короткой фразой.
Если предпочтение не указано, ответь "не указано".`

// Config controls the OpenAI assistant.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *logging.Logger
}

// OpenAIAssistant implements Assistant over chat completions.
type OpenAIAssistant struct {
	client openai.Client
	model  string
	logger *logging.Logger
	tracer trace.Tracer
}

// NewOpenAI creates an assistant backed by the OpenAI API.
func NewOpenAI(cfg Config) (*OpenAIAssistant, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("assistant: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &OpenAIAssistant{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
		tracer: otel.Tracer("vk-travel-bot.internal.assistant"),
	}, nil
}

// Reply answers the customer's message in the context of the recent history.
// The in-band hand-off marker is stripped before the text leaves this package.
func (a *OpenAIAssistant) Reply(ctx context.Context, text, userName string, history []store.Message) (Reply, error) {
	ctx, span := a.tracer.Start(ctx, "assistant.reply")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, m := range history {
		switch m.Role {
		case store.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	current := text
	if userName != "" {
		current = fmt.Sprintf("[Клиент: %s] %s", userName, text)
	}
	messages = append(messages, openai.UserMessage(current))

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     a.model,
		Messages:  messages,
		MaxTokens: openai.Int(replyMaxTokens),
	})
	if err != nil {
		span.RecordError(err)
		return Reply{}, fmt.Errorf("assistant: reply failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("assistant: empty completion")
	}

	clean, wantsHuman := escalation.StripHumanRequest(resp.Choices[0].Message.Content)
	return Reply{Text: clean, WantsHuman: wantsHuman}, nil
}

// Summarize produces the structured lead digest over history plus the current message.
func (a *OpenAIAssistant) Summarize(ctx context.Context, history []store.Message, current string) (LeadSummary, error) {
	ctx, span := a.tracer.Start(ctx, "assistant.summarize")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	var transcript strings.Builder
	for _, m := range history {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}
	transcript.WriteString("user: ")
	transcript.WriteString(current)

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summaryPrompt),
			openai.UserMessage(transcript.String()),
		},
		MaxTokens: openai.Int(summaryMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		span.RecordError(err)
		return LeadSummary{}, fmt.Errorf("assistant: summarize failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return LeadSummary{}, errors.New("assistant: empty summary completion")
	}

	var summary LeadSummary
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &summary); err != nil {
		span.RecordError(err)
		return LeadSummary{}, fmt.Errorf("assistant: decode summary: %w", err)
	}
	return summary, nil
}

// ExtractContactPreference guesses how the customer prefers to be contacted.
func (a *OpenAIAssistant) ExtractContactPreference(ctx context.Context, text string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "assistant.contact_preference")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(contactPrompt),
			openai.UserMessage(text),
		},
		MaxTokens: openai.Int(50),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("assistant: contact preference failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("assistant: empty preference completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
