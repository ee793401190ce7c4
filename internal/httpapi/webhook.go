package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/EZEN13/vk-travel-bot/internal/vk"
	"github.com/EZEN13/vk-travel-bot/pkg/logging"
)

var webhookTracer = otel.Tracer("vk-travel-bot.internal.httpapi")

const processingBudget = 2 * time.Minute

// EventProcessor consumes parsed callback events.
type EventProcessor interface {
	HandleEvent(ctx context.Context, event vk.Event)
}

// WebhookHandler terminates the VK Callback API endpoint. Delivery is
// acknowledged before any I/O-dependent processing so the platform never sees
// a slow or failed pipeline and starts a retry storm.
type WebhookHandler struct {
	confirmationToken string
	processor         EventProcessor
	logger            *logging.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(confirmationToken string, processor EventProcessor, logger *logging.Logger) *WebhookHandler {
	if processor == nil {
		panic("httpapi: event processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		confirmationToken: confirmationToken,
		processor:         processor,
		logger:            logger,
	}
}

// Handle handles POST requests from the Callback API.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	_, span := webhookTracer.Start(r.Context(), "httpapi.webhook")
	defer span.End()

	var event vk.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		// Acknowledge anyway: an error response only makes the platform redeliver.
		h.logger.Error("failed to decode webhook payload", "error", err)
		span.RecordError(err)
		writeOK(w)
		return
	}

	if event.Type == vk.EventConfirmation {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(h.confirmationToken))
		return
	}

	switch event.Type {
	case vk.EventMessageNew, vk.EventMessageReply:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), processingBudget)
			defer cancel()
			h.processor.HandleEvent(ctx, event)
		}()
	default:
		h.logger.Debug("ignoring unhandled event type", "event_type", event.Type)
	}
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HealthCheck returns liveness status.
func (h *WebhookHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// Root returns static service identity.
func (h *WebhookHandler) Root(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"service": "vk-travel-bot",
		"status":  "running",
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
