package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
	"mailpilot/internal/store"
	"mailpilot/tests/testutil"
)

func resolveReq(overrides ...func(*store.ResolveRequest)) store.ResolveRequest {
	req := store.ResolveRequest{
		Email:   "client@example.com",
		Name:    "Pat Client",
		Subject: "Order #42",
	}
	for _, o := range overrides {
		o(&req)
	}
	return req
}

func inboundMsg(externalID string) store.InboundMessage {
	return store.InboundMessage{
		ExternalID:  externalID,
		Subject:     "Order #42",
		FromAddress: "client@example.com",
		FromName:    "Pat Client",
		BodyPlain:   "Where is my package?",
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestResolveConversationCreatesClientAndConversation(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	assert.True(t, resolved.Created)
	assert.Equal(t, "client@example.com", resolved.Client.Email)
	assert.Equal(t, "Pat Client", resolved.Client.Name)
	assert.Equal(t, "Order #42", resolved.Conversation.Topic)
	assert.Equal(t, model.StatusAwaitingResponse, resolved.Conversation.Status)
}

func TestResolveConversationReusesOpenTopicMatch(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	// Reply prefix and casing differences still match the same thread.
	second, err := s.ResolveConversation(ctx, resolveReq(func(r *store.ResolveRequest) {
		r.Subject = "Re: order #42"
	}))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func TestResolveConversationByThreadingHeaders(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	_, err = s.RecordInbound(ctx, first.Conversation.ID, inboundMsg("msg-1@example.com"))
	require.NoError(t, err)

	// A second message replying to the first attaches to the same
	// conversation even with an unrelated subject.
	second, err := s.ResolveConversation(ctx, resolveReq(func(r *store.ResolveRequest) {
		r.Subject = "completely different"
		r.InReplyTo = "msg-1@example.com"
	}))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)

	// References chain alone is enough too.
	third, err := s.ResolveConversation(ctx, resolveReq(func(r *store.ResolveRequest) {
		r.Subject = "also different"
		r.References = []string{"msg-1@example.com"}
	}))
	require.NoError(t, err)
	assert.Equal(t, first.Conversation.ID, third.Conversation.ID)
}

func TestResolveConversationClosedIsTerminal(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	first, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	_, err = s.RecordInbound(ctx, first.Conversation.ID, inboundMsg("msg-closed@example.com"))
	require.NoError(t, err)

	require.NoError(t, s.CloseConversation(ctx, first.Conversation.ID, model.ActorManager))

	// New mail on the closed thread starts a fresh conversation, both
	// via headers and via topic.
	second, err := s.ResolveConversation(ctx, resolveReq(func(r *store.ResolveRequest) {
		r.InReplyTo = "msg-closed@example.com"
	}))
	require.NoError(t, err)

	assert.True(t, second.Created)
	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
}

func TestResolveConversationConcurrentSameThread(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	const workers = 8

	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resolved, err := s.ResolveConversation(ctx, resolveReq())
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = resolved.Conversation.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "all concurrent resolves must yield one conversation")
	}
}

func TestResolveConversationClientNameFillsOnlyWhenEmpty(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.ResolveConversation(ctx, resolveReq(func(r *store.ResolveRequest) {
		r.Name = ""
	}))
	require.NoError(t, err)

	client, err := s.GetClientByEmail(ctx, "Client@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "", client.Name)

	_, err = s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	client, err = s.GetClientByEmail(ctx, "client@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Pat Client", client.Name)

	// A later, different display name does not overwrite.
	_, err = s.ResolveConversation(ctx, resolveReq(func(r *store.ResolveRequest) {
		r.Name = "Someone Else"
	}))
	require.NoError(t, err)

	client, err = s.GetClientByEmail(ctx, "client@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Pat Client", client.Name)
}

func TestRecordInboundIdempotentRedelivery(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)
	convID := resolved.Conversation.ID

	first, err := s.RecordInbound(ctx, convID, inboundMsg("dup@example.com"))
	require.NoError(t, err)
	assert.True(t, first.RequiresAttention)
	assert.Equal(t, model.DirectionInbound, first.Direction)

	_, err = s.RecordInbound(ctx, convID, inboundMsg("dup@example.com"))
	require.ErrorIs(t, err, store.ErrDuplicateMessage)

	messages, err := s.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, messages, 1, "re-delivery must not create a second row")
}

func TestRecordInboundUpdatesConversationActivity(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	in := inboundMsg("act@example.com")
	in.DetectedLanguage = "en"
	_, err = s.RecordInbound(ctx, resolved.Conversation.ID, in)
	require.NoError(t, err)

	conv, err := s.GetConversation(ctx, resolved.Conversation.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusAwaitingResponse, conv.Status)
	assert.Equal(t, "en", conv.Language)
	assert.Equal(t, "Where is my package?", conv.LastMessagePreview)
	require.NotNil(t, conv.LastMessageAt)
}

func TestRecordOutboundManual(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)
	convID := resolved.Conversation.ID

	_, err = s.RecordInbound(ctx, convID, inboundMsg("m1@example.com"))
	require.NoError(t, err)

	msg, err := s.RecordOutbound(ctx, convID, store.OutboundRequest{
		Mode:       model.ModeManual,
		Text:       "We checked: it ships tomorrow.",
		Subject:    "Re: Order #42",
		ExternalID: "reply-1@mailpilot",
	})
	require.NoError(t, err)

	assert.Equal(t, model.SenderManager, msg.Sender)
	assert.Equal(t, model.DirectionOutbound, msg.Direction)
	assert.False(t, msg.IsDraft)
	require.NotNil(t, msg.SentAt)

	conv, err := s.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAnsweredByLLM, conv.Status)
}

func TestRecordOutboundApproveAIPromotesDraft(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)
	convID := resolved.Conversation.ID

	_, err = s.RecordInbound(ctx, convID, inboundMsg("m1@example.com"))
	require.NoError(t, err)

	draft, err := s.RecordDraft(ctx, convID, store.DraftMessage{
		Subject: "Re: Order #42",
		Text:    "Drafted answer.",
	})
	require.NoError(t, err)
	assert.True(t, draft.IsDraft)
	assert.True(t, draft.RequiresAttention)
	assert.Equal(t, model.SenderAssistantDraft, draft.Sender)

	sent, err := s.RecordOutbound(ctx, convID, store.OutboundRequest{
		Mode:       model.ModeApproveAI,
		ExternalID: "reply-2@mailpilot",
	})
	require.NoError(t, err)

	// The draft row itself was promoted, not duplicated.
	assert.Equal(t, draft.ID, sent.ID)
	assert.Equal(t, model.SenderAssistant, sent.Sender)
	assert.Equal(t, model.DirectionOutbound, sent.Direction)
	assert.False(t, sent.IsDraft)
	assert.False(t, sent.RequiresAttention)
	assert.Equal(t, "Drafted answer.", sent.BodyPlain)
	assert.Equal(t, "reply-2@mailpilot", sent.ExternalID)

	messages, err := s.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, messages, 2) // inbound + promoted reply
}

func TestRecordOutboundApproveAIWithoutDraft(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	msg, err := s.RecordOutbound(ctx, resolved.Conversation.ID, store.OutboundRequest{
		Mode: model.ModeApproveAI,
		Text: "Fresh assistant reply.",
	})
	require.NoError(t, err)

	assert.Equal(t, model.SenderAssistant, msg.Sender)
	assert.Equal(t, "Fresh assistant reply.", msg.BodyPlain)
}

func TestSetStatusEnforcesTransitionTable(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)
	convID := resolved.Conversation.ID

	require.NoError(t, s.SetStatus(ctx, convID, model.StatusNeedsHuman))
	require.NoError(t, s.SetStatus(ctx, convID, model.StatusAnsweredByLLM))
	require.NoError(t, s.SetStatus(ctx, convID, model.StatusClosed))

	// Closed is terminal: every exit is rejected.
	for _, target := range []model.ConversationStatus{
		model.StatusAwaitingResponse,
		model.StatusAnsweredByLLM,
		model.StatusNeedsHuman,
		model.StatusClosed,
	} {
		err := s.SetStatus(ctx, convID, target)
		require.Error(t, err)
		assert.True(t, model.IsInvalidTransition(err), "closed -> %s must be invalid", target)
	}

	// The store rejects record operations on closed conversations too.
	_, err = s.RecordInbound(ctx, convID, inboundMsg("late@example.com"))
	require.Error(t, err)
	assert.True(t, model.IsInvalidTransition(err))

	_, err = s.RecordOutbound(ctx, convID, store.OutboundRequest{Mode: model.ModeManual, Text: "x"})
	require.Error(t, err)
	assert.True(t, model.IsInvalidTransition(err))
}

func TestSetStatusUnknownConversation(t *testing.T) {
	s := testutil.NewTestStore(t)

	err := s.SetStatus(context.Background(), "missing", model.StatusClosed)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListConversationsAndUnreadCounts(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	a, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	b, err := s.ResolveConversation(ctx, resolveReq(func(r *store.ResolveRequest) {
		r.Email = "other@example.com"
		r.Subject = "Invoice"
	}))
	require.NoError(t, err)

	_, err = s.RecordInbound(ctx, a.Conversation.ID, inboundMsg("a1@example.com"))
	require.NoError(t, err)

	in := inboundMsg("a2@example.com")
	in.ExternalID = "a2@example.com"
	_, err = s.RecordInbound(ctx, a.Conversation.ID, in)
	require.NoError(t, err)

	summaries, err := s.ListConversations(ctx, store.ConversationFilter{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Newest activity first: conversation A just received mail.
	assert.Equal(t, a.Conversation.ID, summaries[0].ID)
	assert.Equal(t, "client@example.com", summaries[0].ClientEmail)
	assert.Equal(t, 2, summaries[0].UnreadCount)
	assert.Equal(t, 0, summaries[1].UnreadCount)

	// Status filter.
	awaiting := model.StatusAwaitingResponse
	filtered, err := s.ListConversations(ctx, store.ConversationFilter{Status: &awaiting})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	closedStatus := model.StatusClosed
	filtered, err = s.ListConversations(ctx, store.ConversationFilter{Status: &closedStatus})
	require.NoError(t, err)
	assert.Empty(t, filtered)

	counts, err := s.UnreadCounts(ctx, []string{a.Conversation.ID, b.Conversation.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[a.Conversation.ID])
	_, ok := counts[b.Conversation.ID]
	assert.False(t, ok)
}

func TestCloseConversationAppendsLog(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	require.NoError(t, s.CloseConversation(ctx, resolved.Conversation.ID, model.ActorManager))

	conv, err := s.GetConversation(ctx, resolved.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, conv.Status)

	entries, err := s.ListLog(ctx, resolved.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LogEventConversationClosed, entries[0].EventType)
	assert.Equal(t, model.ActorManager, entries[0].Actor)
}

func TestRecordInboundStoresAttachmentsAndReferences(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, err := s.ResolveConversation(ctx, resolveReq())
	require.NoError(t, err)

	in := inboundMsg("att@example.com")
	in.InReplyTo = "root@example.com"
	in.References = []string{"root@example.com", "mid@example.com"}
	in.Attachments = []store.AttachmentMeta{
		{Filename: "invoice.pdf", ContentType: "application/pdf", FileSize: 1234, StoragePath: "abc_invoice.pdf"},
	}

	msg, err := s.RecordInbound(ctx, resolved.Conversation.ID, in)
	require.NoError(t, err)

	messages, err := s.ListMessages(ctx, resolved.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, []string{"root@example.com", "mid@example.com"}, messages[0].ReferencesList)
	assert.Equal(t, "root@example.com", messages[0].InReplyTo)

	attachments, err := s.ListAttachments(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "invoice.pdf", attachments[0].Filename)
	assert.Equal(t, int64(1234), attachments[0].FileSize)
	assert.True(t, attachments[0].IsInbound)
}
