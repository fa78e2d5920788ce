package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

// Normalized event family labels
const (
	eventMessagesUpsert   = "messages.upsert"
	eventSendMessage      = "send.message"
	eventMessagesUpdate   = "messages.update"
	eventConnectionUpdate = "connection.update"
	eventPresenceUpdate   = "presence.update"
)

var (
	ErrUnknownInstance = errors.New("unknown gateway instance")
	errMalformedEvent  = errors.New("malformed event envelope")
)

// WebhookResult summarizes one webhook delivery. Err holds the first
// processing failure; the delivery is acknowledged regardless.
type WebhookResult struct {
	Event      string
	Instance   string
	Processed  int
	Ignored    int
	Duplicates int
	Err        error
	Dispatches []*DispatchHandle
}

func (r *WebhookResult) fail(err error) {
	if r.Err == nil {
		r.Err = err
	}
}

func (r *WebhookResult) merge(o WebhookResult) {
	if r.Event == "" {
		r.Event = o.Event
	}
	if r.Instance == "" {
		r.Instance = o.Instance
	}
	r.Processed += o.Processed
	r.Ignored += o.Ignored
	r.Duplicates += o.Duplicates
	r.Dispatches = append(r.Dispatches, o.Dispatches...)
	if o.Err != nil {
		r.fail(o.Err)
	}
}

type itemOutcome int

const (
	outcomeIgnored itemOutcome = iota
	outcomeProcessed
	outcomeDuplicate
)

type IngestionDeps struct {
	Connections   interfaces.ConnectionStore
	Messages      interfaces.MessageStore
	Conversations *ConversationResolver
	Media         *MediaResolver
	Dispatcher    *AutomationDispatcher
	Status        *ConnectionService
	Presence      interfaces.PresenceRecorder
	Events        interfaces.EventPublisher
	// OptimisticWindow bounds how old an optimistic outbound row may be to
	// be matched by a send confirmation.
	OptimisticWindow time.Duration
}

// IngestionService turns gateway webhook deliveries into stored
// conversations and messages. It is safe for concurrent deliveries: every
// racing write goes through a conditional statement in the store.
type IngestionService struct {
	IngestionDeps
	now func() time.Time
	log *slog.Logger
}

func NewIngestionService(deps IngestionDeps, log *slog.Logger) *IngestionService {
	if log == nil {
		log = slog.Default()
	}
	if deps.OptimisticWindow <= 0 {
		deps.OptimisticWindow = 60 * time.Second
	}
	return &IngestionService{
		IngestionDeps: deps,
		now:           time.Now,
		log:           log.With(slog.String("service", "ingestion")),
	}
}

// NormalizeEventLabel maps MESSAGES_UPSERT, messages-upsert and
// messages.upsert onto the same label.
func NormalizeEventLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.NewReplacer("_", ".", "-", ".").Replace(label)
}

// HandleWebhook processes a raw webhook body. pathEvent is the label taken
// from the route, used when the body does not name its event. Processing
// errors are logged and reported in the result, never returned to the
// gateway.
func (s *IngestionService) HandleWebhook(ctx context.Context, body []byte, pathEvent string) WebhookResult {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookResult{Event: NormalizeEventLabel(pathEvent), Err: fmt.Errorf("%w: %v", errMalformedEvent, err)}
	}

	if batch, ok := payload.([]any); ok {
		var total WebhookResult
		for _, env := range batch {
			total.merge(s.handleEnvelope(ctx, asMap(env), pathEvent))
		}
		return total
	}
	return s.handleEnvelope(ctx, asMap(payload), pathEvent)
}

func (s *IngestionService) handleEnvelope(ctx context.Context, env map[string]any, pathEvent string) WebhookResult {
	if env == nil {
		return WebhookResult{Event: NormalizeEventLabel(pathEvent), Ignored: 1}
	}

	label := asString(env["event"])
	if blank(label) {
		label = pathEvent
	}
	res := WebhookResult{Event: NormalizeEventLabel(label), Instance: instanceName(env)}

	switch res.Event {
	case eventMessagesUpsert, eventSendMessage, eventMessagesUpdate, eventConnectionUpdate, eventPresenceUpdate:
	default:
		res.Ignored++
		return res
	}

	conn, err := s.Connections.GetByInstance(ctx, res.Instance)
	if err != nil {
		s.log.Error("connection lookup failed", slog.String("event", res.Event), slog.String("instance", res.Instance), slog.Any("error", err))
		res.fail(err)
		return res
	}
	if conn == nil {
		s.log.Warn("webhook for unknown instance", slog.String("event", res.Event), slog.String("instance", res.Instance))
		res.Ignored++
		res.fail(ErrUnknownInstance)
		return res
	}

	data := env["data"]
	switch res.Event {
	case eventMessagesUpsert, eventSendMessage:
		for _, item := range collectItems(data) {
			s.handleMessageItem(ctx, conn, res.Event, item, &res)
		}
	case eventMessagesUpdate:
		for _, item := range collectItems(data) {
			s.handleStatusItem(ctx, conn, res.Event, item, &res)
		}
	case eventConnectionUpdate:
		s.handleConnectionUpdate(ctx, conn, asMap(data), &res)
	case eventPresenceUpdate:
		s.handlePresenceUpdate(ctx, conn, asMap(data), &res)
	}
	return res
}

func instanceName(env map[string]any) string {
	switch v := env["instance"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return strings.TrimSpace(firstString(v, "instanceName", "name"))
	}
	return strings.TrimSpace(asString(env["instanceName"]))
}

// collectItems flattens arrays and {messages:[...]} containers into the
// individual items they batch.
func collectItems(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var items []map[string]any
		for _, e := range t {
			items = append(items, collectItems(e)...)
		}
		return items
	case map[string]any:
		if inner, ok := t["messages"].([]any); ok {
			return collectItems(inner)
		}
		return []map[string]any{t}
	}
	return nil
}

func (s *IngestionService) handleMessageItem(ctx context.Context, conn *entities.Connection, event string, item map[string]any, res *WebhookResult) {
	key := parseMessageKey(item)
	outcome, handle, err := s.processMessage(ctx, conn, key, item)
	if err != nil {
		s.log.Error("message not ingested",
			slog.String("event", event),
			slog.String("instance", conn.InstanceName),
			slog.String("message_id", key.ID),
			slog.Any("error", err))
		res.fail(err)
		return
	}
	switch outcome {
	case outcomeProcessed:
		res.Processed++
	case outcomeDuplicate:
		res.Duplicates++
	default:
		res.Ignored++
	}
	if handle != nil {
		res.Dispatches = append(res.Dispatches, handle)
	}
}

// processMessage runs one message item through classification, conversation
// resolution, deduplication and persistence.
func (s *IngestionService) processMessage(ctx context.Context, conn *entities.Connection, key messageKey, item map[string]any) (outcome itemOutcome, handle *DispatchHandle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while ingesting: %v", r)
		}
	}()

	switch ClassifyJID(key.RemoteJID) {
	case AddressBroadcast:
		return outcomeIgnored, nil, nil
	case AddressGroup:
		if !conn.GroupsEnabled {
			return outcomeIgnored, nil, nil
		}
	case AddressInvalid:
		return outcomeIgnored, nil, nil
	}

	c := ClassifyMessage(item)
	if c.Ignore {
		s.log.Debug("message ignored", slog.String("instance", conn.InstanceName), slog.String("message_id", key.ID), slog.String("reason", c.Reason))
		return outcomeIgnored, nil, nil
	}
	if key.ID == "" {
		return outcomeIgnored, nil, nil
	}

	remote := key.RemoteJID
	if IsHiddenUserJID(remote) {
		if alt := firstNonEmpty(key.RemoteJIDAlt, key.SenderPn); alt != "" {
			remote = alt
		}
	}
	ref := ConversationRef{
		RemoteJID: NormalizeJID(remote),
		Phone:     ExtractPhone(remote),
		IsGroup:   ClassifyJID(remote) == AddressGroup,
		PushName:  strings.TrimSpace(asString(item["pushName"])),
		FromMe:    key.FromMe,
	}
	if ref.RemoteJID == "" {
		return outcomeIgnored, nil, nil
	}

	conv, err := s.Conversations.Resolve(ctx, conn, ref)
	if err != nil {
		return outcomeIgnored, nil, fmt.Errorf("resolve conversation: %w", err)
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return outcomeIgnored, nil, fmt.Errorf("encode message envelope: %w", err)
	}

	existing, err := s.Messages.GetByProviderID(ctx, conn.ID, key.ID)
	if err != nil {
		return outcomeIgnored, nil, fmt.Errorf("lookup message: %w", err)
	}
	if existing != nil {
		s.patchMedia(ctx, conn, existing, raw, c)
		return outcomeDuplicate, nil, nil
	}

	if key.FromMe {
		reconciled, err := s.Messages.ReconcileOptimistic(ctx, conv.ID, c.Type, key.ID, s.now().Add(-s.OptimisticWindow))
		if err != nil {
			return outcomeIgnored, nil, fmt.Errorf("reconcile optimistic message: %w", err)
		}
		if reconciled != nil {
			publish(ctx, s.Events, s.log, EventMessageStatus, MessageStatusEvent{
				TenantID:          conn.TenantID,
				ConnectionID:      conn.ID,
				ProviderMessageID: reconciled.ProviderMessageID,
				Status:            reconciled.Status,
			})
			return outcomeProcessed, nil, nil
		}
	}

	msg := &entities.Message{
		ConnectionID:      conn.ID,
		ConversationID:    conv.ID,
		ProviderMessageID: key.ID,
		FromMe:            key.FromMe,
		Type:              c.Type,
		Content:           c.Content,
		Status:            entities.StatusReceived,
		QuotedMessageID:   c.QuotedID,
		SentAt:            messageTime(item["messageTimestamp"], s.now()),
	}
	if key.FromMe {
		msg.Status = entities.StatusSent
	}
	if ref.IsGroup && !key.FromMe {
		msg.SenderName = ref.PushName
		participant := key.Participant
		if IsHiddenUserJID(participant) && key.ParticipantAlt != "" {
			participant = key.ParticipantAlt
		}
		msg.SenderPhone = ExtractPhone(participant)
	}
	if media, ok := s.Media.Resolve(ctx, conn, raw, c); ok {
		msg.MediaURL = media.URL
		msg.MediaMimetype = media.Mimetype
	}

	stored, inserted, err := s.Messages.Upsert(ctx, msg)
	if err != nil {
		return outcomeIgnored, nil, fmt.Errorf("store message: %w", err)
	}
	if !inserted {
		return outcomeDuplicate, nil, nil
	}

	if err := s.Conversations.Touch(ctx, conv, stored.SentAt, !stored.FromMe); err != nil {
		return outcomeProcessed, nil, fmt.Errorf("touch conversation: %w", err)
	}
	publish(ctx, s.Events, s.log, EventMessageCreated, MessageCreatedEvent{
		TenantID:     conn.TenantID,
		Conversation: conv,
		Message:      stored,
	})
	if s.Dispatcher != nil {
		handle = s.Dispatcher.Dispatch(ctx, conn, conv, stored)
	}
	return outcomeProcessed, handle, nil
}

// patchMedia fills in media on a redelivered message whose stored copy
// never got a local attachment.
func (s *IngestionService) patchMedia(ctx context.Context, conn *entities.Connection, existing *entities.Message, raw json.RawMessage, c Classification) {
	if !s.Media.Needed(existing.Type, existing.MediaURL) {
		return
	}
	media, ok := s.Media.Resolve(ctx, conn, raw, c)
	if !ok {
		return
	}
	if err := s.Messages.PatchMedia(ctx, existing.ID, media.URL, media.Mimetype); err != nil {
		s.log.Warn("media patch failed", slog.Int64("message_id", existing.ID), slog.Any("error", err))
		return
	}
	existing.MediaURL = media.URL
	existing.MediaMimetype = media.Mimetype
}

func (s *IngestionService) handleStatusItem(ctx context.Context, conn *entities.Connection, event string, item map[string]any, res *WebhookResult) {
	key := parseMessageKey(item)
	id := firstNonEmpty(asString(item["keyId"]), key.ID, asString(item["messageId"]))

	rawStatus := item["status"]
	if update := asMap(item["update"]); update != nil && rawStatus == nil {
		rawStatus = update["status"]
	}
	status, ok := MapStatusCode(rawStatus)
	if id == "" || !ok {
		res.Ignored++
		return
	}

	applied, err := s.Messages.UpdateStatus(ctx, conn.ID, id, status)
	if err != nil {
		s.log.Error("status not applied",
			slog.String("event", event),
			slog.String("instance", conn.InstanceName),
			slog.String("message_id", id),
			slog.Any("error", err))
		res.fail(err)
		return
	}
	if !applied {
		res.Ignored++
		return
	}
	res.Processed++
	publish(ctx, s.Events, s.log, EventMessageStatus, MessageStatusEvent{
		TenantID:          conn.TenantID,
		ConnectionID:      conn.ID,
		ProviderMessageID: id,
		Status:            status,
	})
}

// MapStatusCode maps a gateway delivery status, given by name or by number,
// onto a message status. Errors and unknown codes report false.
func MapStatusCode(v any) (entities.MessageStatus, bool) {
	code := ""
	switch t := v.(type) {
	case string:
		code = strings.ToUpper(strings.TrimSpace(t))
	case float64:
		code = strconv.Itoa(int(t))
	case json.Number:
		code = t.String()
	}
	switch code {
	case "PENDING", "1":
		return entities.StatusPending, true
	case "SERVER_ACK", "SENT", "2":
		return entities.StatusSent, true
	case "DELIVERY_ACK", "DELIVERED", "3":
		return entities.StatusDelivered, true
	case "READ", "4":
		return entities.StatusRead, true
	case "PLAYED", "5":
		return entities.StatusPlayed, true
	}
	return "", false
}

func (s *IngestionService) handleConnectionUpdate(ctx context.Context, conn *entities.Connection, data map[string]any, res *WebhookResult) {
	if s.Status == nil {
		res.Ignored++
		return
	}

	state := firstString(data, "state", "status")
	var err error
	if state == "" {
		_, err = s.Status.Refresh(ctx, conn)
	} else {
		_, err = s.Status.ApplyStatus(ctx, conn, entities.ParseConnectionStatus(state))
	}
	if err != nil {
		s.log.Warn("connection status not updated", slog.String("instance", conn.InstanceName), slog.Any("error", err))
		res.fail(err)
		return
	}
	res.Processed++
}

var typingPresences = map[string]bool{"composing": true, "recording": true}

func (s *IngestionService) handlePresenceUpdate(ctx context.Context, conn *entities.Connection, data map[string]any, res *WebhookResult) {
	remote := asString(data["id"])
	kind := ClassifyJID(remote)
	if s.Presence == nil || (kind != AddressIndividual && kind != AddressGroup) {
		res.Ignored++
		return
	}

	typing := false
	for _, p := range asMap(data["presences"]) {
		if typingPresences[strings.ToLower(asString(asMap(p)["lastKnownPresence"]))] {
			typing = true
			break
		}
	}

	conv, err := s.Conversations.Lookup(ctx, conn, ConversationRef{
		RemoteJID: NormalizeJID(remote),
		Phone:     ExtractPhone(remote),
		IsGroup:   kind == AddressGroup,
	})
	if err != nil {
		res.fail(err)
		return
	}
	if conv == nil {
		res.Ignored++
		return
	}
	s.Presence.SetTyping(conv.ID, typing)
	res.Processed++
}

type messageKey struct {
	RemoteJID      string
	RemoteJIDAlt   string
	FromMe         bool
	ID             string
	Participant    string
	ParticipantAlt string
	SenderPn       string
}

func parseMessageKey(item map[string]any) messageKey {
	k := asMap(item["key"])
	key := messageKey{
		RemoteJID:      strings.TrimSpace(asString(k["remoteJid"])),
		RemoteJIDAlt:   strings.TrimSpace(asString(k["remoteJidAlt"])),
		ID:             strings.TrimSpace(asString(k["id"])),
		Participant:    strings.TrimSpace(asString(k["participant"])),
		ParticipantAlt: strings.TrimSpace(asString(k["participantAlt"])),
		SenderPn:       strings.TrimSpace(firstNonEmpty(asString(k["senderPn"]), asString(item["senderPn"]))),
	}
	switch v := k["fromMe"].(type) {
	case bool:
		key.FromMe = v
	case string:
		key.FromMe, _ = strconv.ParseBool(v)
	}
	if key.RemoteJID == "" {
		key.RemoteJID = strings.TrimSpace(asString(item["remoteJid"]))
	}
	return key
}

// messageTime reads a unix timestamp given as seconds or milliseconds, as a
// number, a string or a {low, high} long.
func messageTime(v any, fallback time.Time) time.Time {
	if m := asMap(v); m != nil {
		low, _ := asFloat(m["low"])
		high, _ := asFloat(m["high"])
		v = float64(int64(high)<<32 | int64(uint32(int64(low))))
	}
	ts, ok := asFloat(v)
	if !ok || ts <= 0 {
		return fallback
	}
	if ts > 1e12 {
		return time.UnixMilli(int64(ts)).UTC()
	}
	return time.Unix(int64(ts), 0).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
