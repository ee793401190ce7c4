package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EZEN13/vk-travel-bot/internal/assistant"
	"github.com/EZEN13/vk-travel-bot/internal/notify"
	"github.com/EZEN13/vk-travel-bot/internal/store"
	"github.com/EZEN13/vk-travel-bot/internal/vk"
)

type fakeStore struct {
	paused      map[string]store.PauseReason
	botMessages map[int64]bool
	history     map[string][]store.Message
	saveErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		paused:      make(map[string]store.PauseReason),
		botMessages: make(map[int64]bool),
		history:     make(map[string][]store.Message),
	}
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }
func (f *fakeStore) Close()                         {}

func (f *fakeStore) SaveMessage(ctx context.Context, conversationID string, role store.Role, content string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.history[conversationID] = append(f.history[conversationID], store.Message{Role: role, Content: content})
	return nil
}

func (f *fakeStore) GetHistory(ctx context.Context, conversationID string, limit int) []store.Message {
	return f.history[conversationID]
}

func (f *fakeStore) Pause(ctx context.Context, conversationID string, reason store.PauseReason) error {
	f.paused[conversationID] = reason
	return nil
}

func (f *fakeStore) Resume(ctx context.Context, conversationID string) error {
	delete(f.paused, conversationID)
	return nil
}

func (f *fakeStore) IsPaused(ctx context.Context, conversationID string) bool {
	_, ok := f.paused[conversationID]
	return ok
}

func (f *fakeStore) TrackBotMessage(ctx context.Context, messageID int64) error {
	f.botMessages[messageID] = true
	return nil
}

func (f *fakeStore) IsBotMessage(ctx context.Context, messageID int64) bool {
	return f.botMessages[messageID]
}

func (f *fakeStore) CleanOldHistory(ctx context.Context, daysToKeep int) {}

type sentMessage struct {
	peerID int64
	text   string
}

type fakeMessenger struct {
	nextID       int64
	sent         []sentMessage
	typingPeers  []int64
	profileCalls []int64
	userErr      error
}

func (f *fakeMessenger) SendMessage(ctx context.Context, peerID int64, text string) (int64, error) {
	f.nextID++
	f.sent = append(f.sent, sentMessage{peerID: peerID, text: text})
	return f.nextID, nil
}

func (f *fakeMessenger) SetTyping(ctx context.Context, peerID int64) error {
	f.typingPeers = append(f.typingPeers, peerID)
	return nil
}

func (f *fakeMessenger) GetUser(ctx context.Context, userID int64) (*vk.User, error) {
	f.profileCalls = append(f.profileCalls, userID)
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &vk.User{ID: userID, FirstName: "Анна", LastName: "Иванова"}, nil
}

type fakeAssistant struct {
	reply        assistant.Reply
	replyErr     error
	replyHistory []store.Message
	summary      assistant.LeadSummary
	summaryErr   error
	preference   string
}

func (f *fakeAssistant) Reply(ctx context.Context, text, userName string, history []store.Message) (assistant.Reply, error) {
	f.replyHistory = history
	if f.replyErr != nil {
		return assistant.Reply{}, f.replyErr
	}
	return f.reply, nil
}

func (f *fakeAssistant) Summarize(ctx context.Context, history []store.Message, current string) (assistant.LeadSummary, error) {
	if f.summaryErr != nil {
		return assistant.LeadSummary{}, f.summaryErr
	}
	return f.summary, nil
}

func (f *fakeAssistant) ExtractContactPreference(ctx context.Context, text string) (string, error) {
	return f.preference, nil
}

type fakeNotifier struct {
	leads    []notify.LeadData
	requests []notify.LeadData
}

func (f *fakeNotifier) NotifyLead(ctx context.Context, lead notify.LeadData) error {
	f.leads = append(f.leads, lead)
	return nil
}

func (f *fakeNotifier) NotifyManagerRequest(ctx context.Context, lead notify.LeadData) error {
	f.requests = append(f.requests, lead)
	return nil
}

type testRig struct {
	store     *fakeStore
	messenger *fakeMessenger
	assistant *fakeAssistant
	notifier  *fakeNotifier
	hub       *Coordinator
}

func newTestRig() *testRig {
	r := &testRig{
		store:     newFakeStore(),
		messenger: &fakeMessenger{},
		assistant: &fakeAssistant{reply: assistant.Reply{Text: "Отличный выбор!"}},
		notifier:  &fakeNotifier{},
	}
	r.hub = New(Config{
		Store:     r.store,
		Messenger: r.messenger,
		Assistant: r.assistant,
		Notifier:  r.notifier,
		GroupID:   200500,
	})
	return r
}

func messageNewEvent(t *testing.T, msg vk.Message) vk.Event {
	t.Helper()
	object, err := json.Marshal(map[string]vk.Message{"message": msg})
	require.NoError(t, err)
	return vk.Event{Type: vk.EventMessageNew, GroupID: 200500, Object: object}
}

func messageReplyEvent(t *testing.T, msg vk.Message) vk.Event {
	t.Helper()
	object, err := json.Marshal(msg)
	require.NoError(t, err)
	return vk.Event{Type: vk.EventMessageReply, GroupID: 200500, Object: object}
}

func TestHandleEvent_EndToEndLead(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.assistant.summary = assistant.LeadSummary{Destination: "Анталия"}
	r.assistant.preference = "позвонить"

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
		Text:   "Хочу тур в Анталию, мой номер +79991234567",
	}))

	// Profile fetched and typing set for the sender.
	assert.Equal(t, []int64{777}, r.messenger.profileCalls)
	assert.Equal(t, []int64{555}, r.messenger.typingPeers)

	// Assistant invoked with empty history, both turns persisted.
	assert.Empty(t, r.assistant.replyHistory)
	saved := r.store.history["555"]
	require.Len(t, saved, 2)
	assert.Equal(t, store.RoleUser, saved[0].Role)
	assert.Contains(t, saved[0].Content, "+79991234567")
	assert.Equal(t, store.RoleAssistant, saved[1].Role)

	// Reply sent to the peer and its id tracked as bot traffic.
	require.Len(t, r.messenger.sent, 1)
	assert.Equal(t, int64(555), r.messenger.sent[0].peerID)
	assert.Equal(t, "Отличный выбор!", r.messenger.sent[0].text)
	assert.True(t, r.store.botMessages[1])

	// Phone escalation fired with the extracted number.
	require.Len(t, r.notifier.leads, 1)
	lead := r.notifier.leads[0]
	assert.Equal(t, "555", lead.ConversationID)
	assert.Equal(t, "+79991234567", lead.Phone)
	assert.Equal(t, "позвонить", lead.ContactPreference)
	assert.Equal(t, "Анталия", lead.Summary.Destination)
	assert.Equal(t, "Анна Иванова", lead.Name)
	assert.Empty(t, r.notifier.requests)
}

func TestHandleEvent_PhoneWinsOverMarker(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.assistant.reply = assistant.Reply{Text: "Зову менеджера", WantsHuman: true}

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
		Text:   "Позовите человека, номер 89991234567",
	}))

	require.Len(t, r.notifier.leads, 1)
	assert.Empty(t, r.notifier.requests)
	assert.Equal(t, "89991234567", r.notifier.leads[0].Phone)
}

func TestHandleEvent_ManagerRequestWithoutPhone(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.assistant.reply = assistant.Reply{Text: "Сейчас позову менеджера", WantsHuman: true}

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
		Text:   "Хочу поговорить с человеком",
	}))

	assert.Empty(t, r.notifier.leads)
	require.Len(t, r.notifier.requests, 1)
	assert.Equal(t, "555", r.notifier.requests[0].ConversationID)
	assert.Empty(t, r.notifier.requests[0].Phone)
}

func TestHandleEvent_PauseGate(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.store.paused["555"] = store.PauseManager

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
		Text:   "есть туры?",
	}))

	assert.Empty(t, r.messenger.sent)
	assert.Empty(t, r.store.history["555"])
}

func TestHandleEvent_EmptyTextPrompt(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
	}))

	require.Len(t, r.messenger.sent, 1)
	assert.Equal(t, emptyTextPrompt, r.messenger.sent[0].text)
	assert.Empty(t, r.store.history["555"])
	// The prompt's own id is tracked so its echo is not mistaken for an operator.
	assert.True(t, r.store.botMessages[1])
}

func TestHandleEvent_BotEchoSuppression(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.store.botMessages[41] = true

	r.hub.HandleEvent(ctx, messageReplyEvent(t, vk.Message{
		ID:     41,
		PeerID: 555,
		FromID: -200500,
		Text:   "Отличный выбор!",
	}))

	assert.Empty(t, r.store.paused)
	assert.Empty(t, r.messenger.sent)
}

func TestHandleEvent_OperatorReplyPauses(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()

	r.hub.HandleEvent(ctx, messageReplyEvent(t, vk.Message{
		ID:     42,
		PeerID: 555,
		FromID: -200500,
		Text:   "Здравствуйте, я менеджер Мария",
	}))

	assert.Equal(t, store.PauseManagerReply, r.store.paused["555"])
	assert.Empty(t, r.messenger.sent)
}

func TestHandleEvent_OperatorEchoedNewMessagePauses(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     43,
		PeerID: 555,
		FromID: -200500,
		Text:   "Подключаюсь к диалогу",
	}))

	assert.Equal(t, store.PauseManager, r.store.paused["555"])
	assert.Empty(t, r.messenger.sent)
}

func TestHandleEvent_AssistantFailureAbortsSilently(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.assistant.replyErr = errors.New("model overloaded")

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
		Text:   "есть туры?",
	}))

	// No reply, no history writes, no escalation.
	assert.Empty(t, r.messenger.sent)
	assert.Empty(t, r.store.history["555"])
	assert.Empty(t, r.notifier.leads)
}

func TestHandleEvent_SaveFailureDoesNotBlockReply(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.store.saveErr = errors.New("disk full")

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
		Text:   "есть туры?",
	}))

	require.Len(t, r.messenger.sent, 1)
	assert.Equal(t, "Отличный выбор!", r.messenger.sent[0].text)
}

func TestHandleEvent_ProfileFailureDegrades(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.messenger.userErr = errors.New("profile unavailable")

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
		Text:   "есть туры?",
	}))

	require.Len(t, r.messenger.sent, 1)
}

func TestHandleEvent_SummaryFailureSkipsEscalation(t *testing.T) {
	ctx := context.Background()
	r := newTestRig()
	r.assistant.summaryErr = errors.New("summary failed")

	r.hub.HandleEvent(ctx, messageNewEvent(t, vk.Message{
		ID:     1,
		PeerID: 555,
		FromID: 777,
		Text:   "мой номер +79991234567",
	}))

	// Reply delivered even though the escalation sub-path failed.
	require.Len(t, r.messenger.sent, 1)
	assert.Empty(t, r.notifier.leads)
}
