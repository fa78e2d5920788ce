package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
	"project_wainbox/internal/repository"
)

// In-memory stores mirroring the conflict rules of the Postgres repositories.

type memConnections struct {
	mu     sync.Mutex
	rows   map[int64]*entities.Connection
	nextID int64
}

func newMemConnections(conns ...*entities.Connection) *memConnections {
	m := &memConnections{rows: map[int64]*entities.Connection{}}
	for _, c := range conns {
		_ = m.Create(context.Background(), c)
	}
	return m
}

func (m *memConnections) GetByID(_ context.Context, id int64) (*entities.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConnections) GetByInstance(_ context.Context, instance string) (*entities.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.InstanceName == instance {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memConnections) ListByTenant(_ context.Context, tenantID string) ([]entities.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.Connection
	for _, c := range m.rows {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memConnections) ListAll(_ context.Context) ([]entities.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.Connection
	for _, c := range m.rows {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memConnections) Create(_ context.Context, c *entities.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.InstanceName == c.InstanceName {
			return repository.ErrDuplicate
		}
	}
	m.nextID++
	c.ID = m.nextID
	if c.Status == "" {
		c.Status = entities.ConnectionDisconnected
	}
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memConnections) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memConnections) UpdateStatus(_ context.Context, id int64, status entities.ConnectionStatus) (entities.ConnectionStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return "", false, repository.ErrNotFound
	}
	prev := c.Status
	if prev == status {
		return prev, false, nil
	}
	c.Status = status
	return prev, true, nil
}

type memConversations struct {
	mu     sync.Mutex
	rows   []*entities.Conversation
	nextID int64
}

func (m *memConversations) Find(_ context.Context, l interfaces.ConversationLookup) (*entities.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*entities.Conversation
	for _, c := range m.rows {
		if c.ConnectionID != l.ConnectionID {
			continue
		}
		if l.IsGroup {
			if c.RemoteJID == l.RemoteJID {
				matches = append(matches, c)
			}
			continue
		}
		user := strings.SplitN(strings.SplitN(c.RemoteJID, "@", 2)[0], ":", 2)[0]
		if c.RemoteJID == l.RemoteJID || (l.Phone != "" && (c.ContactPhone == l.Phone || user == l.Phone)) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if IsCanonicalJID(a.RemoteJID) != IsCanonicalJID(b.RemoteJID) {
			return IsCanonicalJID(a.RemoteJID)
		}
		at, bt := lastActivity(a), lastActivity(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID > b.ID
	})
	cp := *matches[0]
	return &cp, nil
}

func lastActivity(c *entities.Conversation) time.Time {
	if c.LastMessageAt == nil {
		return time.Time{}
	}
	return *c.LastMessageAt
}

func (m *memConversations) Upsert(_ context.Context, c *entities.Conversation) (*entities.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.ConnectionID == c.ConnectionID && existing.RemoteJID == c.RemoteJID {
			if existing.Name == "" {
				existing.Name = c.Name
			}
			if existing.ContactPhone == "" {
				existing.ContactPhone = c.ContactPhone
			}
			cp := *existing
			return &cp, nil
		}
	}
	m.nextID++
	row := *c
	row.ID = m.nextID
	row.UnreadCount = 0
	m.rows = append(m.rows, &row)
	cp := row
	return &cp, nil
}

func (m *memConversations) insert(c entities.Conversation) *entities.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	m.rows = append(m.rows, &c)
	cp := c
	return &cp
}

func (m *memConversations) byID(id int64) *entities.Conversation {
	for _, c := range m.rows {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *memConversations) RepairIdentifier(_ context.Context, id int64, remoteJID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byID(id)
	if row == nil {
		return false, nil
	}
	for _, c := range m.rows {
		if c.ID != id && c.ConnectionID == row.ConnectionID && c.RemoteJID == remoteJID {
			return false, nil
		}
	}
	row.RemoteJID = remoteJID
	return true, nil
}

func (m *memConversations) EnrichName(_ context.Context, id int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row := m.byID(id); row != nil && name != "" {
		row.Name = name
	}
	return nil
}

func (m *memConversations) Touch(_ context.Context, id int64, at time.Time, inbound bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byID(id)
	if row == nil {
		return repository.ErrNotFound
	}
	if row.LastMessageAt == nil || at.After(*row.LastMessageAt) {
		t := at
		row.LastMessageAt = &t
	}
	if inbound {
		row.UnreadCount++
	}
	return nil
}

func (m *memConversations) GetByID(_ context.Context, id int64) (*entities.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.byID(id)
	if row == nil {
		return nil, repository.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memConversations) ListByConnection(_ context.Context, connectionID int64, limit int) ([]entities.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.Conversation
	for _, c := range m.rows {
		if c.ConnectionID == connectionID {
			out = append(out, *c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memConversations) MarkRead(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row := m.byID(id); row != nil {
		row.UnreadCount = 0
	}
	return nil
}

func (m *memConversations) all() []entities.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.Conversation, 0, len(m.rows))
	for _, c := range m.rows {
		out = append(out, *c)
	}
	return out
}

type memMessages struct {
	mu     sync.Mutex
	rows   []*entities.Message
	nextID int64
}

func (m *memMessages) confirmed(connectionID int64, providerID string) *entities.Message {
	for _, r := range m.rows {
		if !r.Optimistic && r.ConnectionID == connectionID && r.ProviderMessageID == providerID {
			return r
		}
	}
	return nil
}

func (m *memMessages) GetByProviderID(_ context.Context, connectionID int64, providerID string) (*entities.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.confirmed(connectionID, providerID); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *memMessages) ReconcileOptimistic(_ context.Context, conversationID int64, t entities.MessageType, providerID string, since time.Time) (*entities.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ConversationID != conversationID || !r.Optimistic || !r.FromMe || r.Type != t ||
			r.Status != entities.StatusPending || r.CreatedAt.Before(since) {
			continue
		}
		if m.confirmed(r.ConnectionID, providerID) != nil {
			return nil, nil
		}
		r.ProviderMessageID = providerID
		r.Optimistic = false
		r.Status = entities.StatusSent
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *memMessages) Upsert(_ context.Context, msg *entities.Message) (*entities.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.confirmed(msg.ConnectionID, msg.ProviderMessageID); r != nil {
		if r.MediaURL == "" {
			r.MediaURL = msg.MediaURL
			r.MediaMimetype = msg.MediaMimetype
		}
		if r.Status == entities.StatusPending && msg.Status == entities.StatusSent {
			r.Status = entities.StatusSent
		}
		cp := *r
		return &cp, false, nil
	}
	m.nextID++
	row := *msg
	row.ID = m.nextID
	row.CreatedAt = time.Now()
	m.rows = append(m.rows, &row)
	cp := row
	return &cp, true, nil
}

func (m *memMessages) PatchMedia(_ context.Context, id int64, url, mimetype string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			r.MediaURL = url
			r.MediaMimetype = mimetype
		}
	}
	return nil
}

func (m *memMessages) UpdateStatus(_ context.Context, connectionID int64, providerID string, status entities.MessageStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.confirmed(connectionID, providerID)
	if r == nil || status.Rank() <= r.Status.Rank() {
		return false, nil
	}
	r.Status = status
	return true, nil
}

func (m *memMessages) InsertOptimistic(_ context.Context, msg *entities.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.Optimistic = true
	msg.FromMe = true
	msg.Status = entities.StatusPending
	m.nextID++
	msg.ID = m.nextID
	msg.CreatedAt = time.Now()
	row := *msg
	m.rows = append(m.rows, &row)
	return nil
}

func (m *memMessages) ConfirmOptimistic(_ context.Context, id int64, providerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && r.Optimistic {
			if m.confirmed(r.ConnectionID, providerID) != nil {
				return false, nil
			}
			r.ProviderMessageID = providerID
			r.Optimistic = false
			if r.Status == entities.StatusPending {
				r.Status = entities.StatusSent
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memMessages) MarkFailed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && r.Optimistic && r.Status == entities.StatusPending {
			r.Status = entities.StatusFailed
		}
	}
	return nil
}

func (m *memMessages) ListByConversation(_ context.Context, conversationID int64, limit int, before int64) ([]entities.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.Message
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.rows[i]
		if r.ConversationID == conversationID && (before == 0 || r.ID < before) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memMessages) all() []entities.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entities.Message, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, *r)
	}
	return out
}

type memAutomations struct {
	sessions map[int64]*entities.AutomationSession
	autos    []entities.Automation
	listed   int
}

func (m *memAutomations) ActiveSession(_ context.Context, conversationID int64) (*entities.AutomationSession, error) {
	if s, ok := m.sessions[conversationID]; ok && s.IsActive {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memAutomations) ListTriggerable(_ context.Context, connectionID int64) ([]entities.Automation, error) {
	m.listed++
	var out []entities.Automation
	for _, a := range m.autos {
		if a.IsActive && a.TriggerEnabled && (a.ConnectionID == 0 || a.ConnectionID == connectionID) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Collaborators

type fakeGateway struct {
	mu           sync.Mutex
	media        interfaces.MediaPayload
	mediaErr     error
	mediaCalls   int
	lastRaw      json.RawMessage
	status       entities.ConnectionStatus
	statusErr    error
	subject      string
	subjectErr   error
	subjectCalls int
	sendID       string
	sendErr      error
	sent         []string
	pairingCode  string
	connectCalls int
}

func (g *fakeGateway) FetchMediaBase64(_ context.Context, _ *entities.Connection, raw json.RawMessage) (interfaces.MediaPayload, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mediaCalls++
	g.lastRaw = raw
	return g.media, g.mediaErr
}

func (g *fakeGateway) FetchInstanceStatus(context.Context, *entities.Connection) (entities.ConnectionStatus, error) {
	return g.status, g.statusErr
}

func (g *fakeGateway) FetchGroupSubject(context.Context, *entities.Connection, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subjectCalls++
	return g.subject, g.subjectErr
}

func (g *fakeGateway) SendText(_ context.Context, _ *entities.Connection, number, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, number)
	return g.sendID, g.sendErr
}

func (g *fakeGateway) Connect(context.Context, *entities.Connection) (string, error) {
	g.connectCalls++
	return g.pairingCode, nil
}

type engineCall struct {
	kind           string
	automationID   int64
	conversationID int64
	input          string
}

type fakeEngine struct {
	mu          sync.Mutex
	calls       []engineCall
	continueRes interfaces.AutomationResult
	continueErr error
	startErr    error
}

func (e *fakeEngine) ContinueSession(_ context.Context, conversationID int64, input string) (interfaces.AutomationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{kind: "continue", conversationID: conversationID, input: input})
	return e.continueRes, e.continueErr
}

func (e *fakeEngine) StartAutomation(_ context.Context, automationID, conversationID int64, trigger string) (interfaces.AutomationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{kind: "start", automationID: automationID, conversationID: conversationID, input: trigger})
	if e.startErr != nil {
		return interfaces.AutomationResult{}, e.startErr
	}
	return interfaces.AutomationResult{Success: true, NodesProcessed: 1}, nil
}

func (e *fakeEngine) recorded() []engineCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engineCall(nil), e.calls...)
}

const testMediaBase = "http://media.test/media/"

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{blobs: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[name] = data
	return nil
}

func (b *memBlobs) Open(_ context.Context, name string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[name]
	if !ok {
		return nil, errors.New("no such blob")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) URL(name string) string  { return testMediaBase + name }
func (b *memBlobs) IsLocal(url string) bool { return strings.HasPrefix(url, testMediaBase) }

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.blobs)
}

// contents returns the stored bytes behind a public URL
func (b *memBlobs) contents(url string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blobs[strings.TrimPrefix(url, testMediaBase)]
}

type publishedEvent struct {
	Type string
	Data any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(_ context.Context, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Data: data})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type statusAlert struct {
	Instance          string
	Previous, Current entities.ConnectionStatus
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []statusAlert
}

func (n *fakeNotifier) NotifyConnectionStatus(_ context.Context, conn *entities.Connection, previous, current entities.ConnectionStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, statusAlert{Instance: conn.InstanceName, Previous: previous, Current: current})
	return nil
}

type fakePresence struct {
	mu     sync.Mutex
	typing map[int64]bool
}

func (p *fakePresence) SetTyping(conversationID int64, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typing == nil {
		p.typing = map[int64]bool{}
	}
	p.typing[conversationID] = typing
}

func (p *fakePresence) IsTyping(conversationID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing[conversationID]
}
