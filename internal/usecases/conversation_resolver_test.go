package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"project_wainbox/internal/entities"
)

func individualRef(raw, pushName string, fromMe bool) ConversationRef {
	return ConversationRef{
		RemoteJID: NormalizeJID(raw),
		Phone:     ExtractPhone(raw),
		PushName:  pushName,
		FromMe:    fromMe,
	}
}

func TestResolveCreatesIndividualConversation(t *testing.T) {
	t.Parallel()

	store := &memConversations{}
	r := NewConversationResolver(store, &fakeGateway{}, time.Second, nil)
	conn := &entities.Connection{ID: 1}

	conv, err := r.Resolve(context.Background(), conn, individualRef("5511999990000@s.whatsapp.net", "Maria", false))
	require.NoError(t, err)
	assert.Equal(t, "5511999990000@s.whatsapp.net", conv.RemoteJID)
	assert.Equal(t, "5511999990000", conv.ContactPhone)
	assert.Equal(t, "Maria", conv.Name)
	assert.False(t, conv.IsGroup)
	assert.Zero(t, conv.UnreadCount)

	outbound, err := r.Resolve(context.Background(), conn, individualRef("5511888880000@s.whatsapp.net", "Me", true))
	require.NoError(t, err)
	assert.Equal(t, "5511888880000", outbound.Name)
}

func TestResolveCollapsesIdentifierVariants(t *testing.T) {
	t.Parallel()

	store := &memConversations{}
	r := NewConversationResolver(store, nil, time.Second, nil)
	conn := &entities.Connection{ID: 1}

	variants := []string{
		"5511999990000@s.whatsapp.net",
		"5511999990000@c.us",
		"5511999990000:12@s.whatsapp.net",
		"+5511999990000",
	}
	var ids []int64
	for _, v := range variants {
		conv, err := r.Resolve(context.Background(), conn, individualRef(v, "", false))
		require.NoError(t, err)
		ids = append(ids, conv.ID)
	}
	assert.Len(t, store.all(), 1)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolveRepairsDriftedIdentifier(t *testing.T) {
	t.Parallel()

	store := &memConversations{}
	legacy := store.insert(entities.Conversation{ConnectionID: 1, RemoteJID: "5511999990000@c.us", Name: "Old"})
	r := NewConversationResolver(store, nil, time.Second, nil)

	conv, err := r.Resolve(context.Background(), &entities.Connection{ID: 1}, individualRef("5511999990000@s.whatsapp.net", "", false))
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, conv.ID)
	assert.Equal(t, "5511999990000@s.whatsapp.net", conv.RemoteJID)

	stored, err := store.GetByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, "5511999990000@s.whatsapp.net", stored.RemoteJID)
	assert.Equal(t, "Old", stored.Name)
}

func TestResolvePrefersCanonicalRow(t *testing.T) {
	t.Parallel()

	store := &memConversations{}
	recent := time.Now()
	store.insert(entities.Conversation{ConnectionID: 1, RemoteJID: "5511999990000@c.us", LastMessageAt: &recent})
	canonical := store.insert(entities.Conversation{ConnectionID: 1, RemoteJID: "5511999990000@s.whatsapp.net", ContactPhone: "5511999990000"})
	r := NewConversationResolver(store, nil, time.Second, nil)

	conv, err := r.Resolve(context.Background(), &entities.Connection{ID: 1}, individualRef("5511999990000@c.us", "", false))
	require.NoError(t, err)
	assert.Equal(t, canonical.ID, conv.ID)
	assert.Len(t, store.all(), 2)
}

func TestResolveEnrichesNames(t *testing.T) {
	t.Parallel()

	store := &memConversations{}
	gw := &fakeGateway{subjectErr: errors.New("timeout")}
	r := NewConversationResolver(store, gw, time.Second, nil)
	conn := &entities.Connection{ID: 1}
	group := ConversationRef{RemoteJID: "120363025246125486@g.us", IsGroup: true}

	conv, err := r.Resolve(context.Background(), conn, group)
	require.NoError(t, err)
	assert.Equal(t, "Group", conv.Name)
	assert.True(t, conv.IsGroup)
	assert.Empty(t, conv.ContactPhone)

	gw.subjectErr = nil
	gw.subject = "Sales Team"
	conv, err = r.Resolve(context.Background(), conn, group)
	require.NoError(t, err)
	assert.Equal(t, "Sales Team", conv.Name)

	gw.subject = "Renamed"
	conv, err = r.Resolve(context.Background(), conn, group)
	require.NoError(t, err)
	assert.Equal(t, "Sales Team", conv.Name)

	person, err := r.Resolve(context.Background(), conn, individualRef("5511999990000", "Maria", false))
	require.NoError(t, err)
	assert.Equal(t, "Maria", person.Name)

	person, err = r.Resolve(context.Background(), conn, individualRef("5511999990000", "Maria Silva", false))
	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", person.Name)

	person, err = r.Resolve(context.Background(), conn, individualRef("5511999990000", "Operator", true))
	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", person.Name)
}

func TestResolvePicksUpGroupRename(t *testing.T) {
	t.Parallel()

	store := &memConversations{}
	gw := &fakeGateway{subject: "Old subject"}
	r := NewConversationResolver(store, gw, time.Second, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	conn := &entities.Connection{ID: 1}
	group := ConversationRef{RemoteJID: "120363025246125486@g.us", IsGroup: true}

	conv, err := r.Resolve(context.Background(), conn, group)
	require.NoError(t, err)
	assert.Equal(t, "Old subject", conv.Name)
	assert.Equal(t, 1, gw.subjectCalls)

	gw.subject = "New subject"
	now = now.Add(time.Minute)
	conv, err = r.Resolve(context.Background(), conn, group)
	require.NoError(t, err)
	assert.Equal(t, "Old subject", conv.Name, "subject is not re-read on every message")
	assert.Equal(t, 1, gw.subjectCalls)

	now = now.Add(groupSubjectRefresh)
	conv, err = r.Resolve(context.Background(), conn, group)
	require.NoError(t, err)
	assert.Equal(t, "New subject", conv.Name)
	assert.Equal(t, 2, gw.subjectCalls)

	stored, err := store.GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "New subject", stored.Name)

	gw.subject = ""
	now = now.Add(groupSubjectRefresh)
	conv, err = r.Resolve(context.Background(), conn, group)
	require.NoError(t, err)
	assert.Equal(t, "New subject", conv.Name, "an empty subject keeps the stored name")
}

func TestResolverTouch(t *testing.T) {
	t.Parallel()

	store := &memConversations{}
	r := NewConversationResolver(store, nil, time.Second, nil)
	conv, err := r.Resolve(context.Background(), &entities.Connection{ID: 1}, individualRef("5511999990000", "", false))
	require.NoError(t, err)

	later := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	require.NoError(t, r.Touch(context.Background(), conv, later, true))
	require.NoError(t, r.Touch(context.Background(), conv, earlier, false))

	stored, err := store.GetByID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UnreadCount)
	assert.True(t, stored.LastMessageAt.Equal(later))
	assert.Equal(t, 1, conv.UnreadCount)
	assert.True(t, conv.LastMessageAt.Equal(later))
}
