package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasarchat/internal/domain/entity"
	"pasarchat/internal/domain/repository"
	"pasarchat/internal/infrastructure/watch"
	"pasarchat/pkg/errors"
)

// droppingMessageRepo serves the first live query from a one-off read and
// breaks it with a transient error once drop is closed, like a listener
// lost to a network reset. Later queries go to the real store.
type droppingMessageRepo struct {
	repository.MessageRepository
	served  chan struct{}
	drop    chan struct{}
	dropped atomic.Bool
}

func newDroppingMessageRepo(inner repository.MessageRepository) *droppingMessageRepo {
	return &droppingMessageRepo{MessageRepository: inner, served: make(chan struct{}), drop: make(chan struct{})}
}

func (r *droppingMessageRepo) WatchByChat(ctx context.Context, chatID string, fn func([]*entity.Message)) error {
	policy := watch.Policy{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond}
	return watch.Loop(ctx, policy, "messages of "+chatID, func(ctx context.Context, healthy func()) error {
		if r.dropped.Load() {
			return r.MessageRepository.WatchByChat(ctx, chatID, fn)
		}
		messages, err := r.ListByChat(ctx, chatID)
		if err != nil {
			return err
		}
		fn(messages)
		healthy()
		close(r.served)

		select {
		case <-ctx.Done():
			return nil
		case <-r.drop:
		}
		r.dropped.Store(true)
		return errors.TransientStore("Message listener dropped", fmt.Errorf("stream reset"))
	})
}

func (s *ChatSession) tempIDCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tempIDs)
}

func TestDirectoryOrdersByRecencyAndFiltersParticipants(t *testing.T) {
	env := newTestEnv(t)
	uc := env.useCase()
	ctx := context.Background()

	older, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2", ProductID: "p1"})
	require.NoError(t, err)
	newer, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2", ProductID: "p2"})
	require.NoError(t, err)
	_, err = uc.StartOrResumeChat(ctx, "u3", StartChatInput{CounterpartID: "u4"})
	require.NoError(t, err)

	var mu sync.Mutex
	var latest []*entity.Chat
	sub, err := uc.ListMyChats(ctx, "u1", func(chats []*entity.Chat) {
		mu.Lock()
		defer mu.Unlock()
		latest = chats
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	firstID := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(latest) != 2 {
			return ""
		}
		for _, chat := range latest {
			assert.True(t, chat.HasParticipant("u1"))
		}
		return latest[0].ID
	}
	require.Eventually(t, func() bool { return firstID() == newer.ID }, time.Second, time.Millisecond)

	_, err = uc.SendMessage(ctx, "u2", older.ID, SendMessageInput{Text: "still for sale"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return firstID() == older.ID }, time.Second, time.Millisecond)
}

func TestDirectoryEmptyUser(t *testing.T) {
	uc := newTestEnv(t).useCase()

	entries, err := uc.ListChats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestListChatsLabelsCounterparts(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()
	_, err := uc.StartOrResumeChat(ctx, "u2", StartChatInput{CounterpartID: "u1"})
	require.NoError(t, err)
	_, err = uc.StartOrResumeChat(ctx, "u2", StartChatInput{CounterpartID: "u5"})
	require.NoError(t, err)

	entries, err := uc.ListChats(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := map[string]string{}
	for _, entry := range entries {
		names[entry.Counterpart.ID] = entry.Counterpart.Name
	}
	assert.Equal(t, "Budi", names["u1"])
	assert.Equal(t, "User", names["u5"])
}

func TestSessionSendConfirmsOptimisticMessage(t *testing.T) {
	env := newTestEnv(t)
	uc := env.useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2", ProductID: "p1"})
	require.NoError(t, err)

	rec := &views{}
	session := uc.OpenChat(ctx, "u1", chat.ID, rec.record)
	defer session.Close()

	view := session.View()
	require.Equal(t, SessionReady, view.State)
	assert.Equal(t, "seller@pasar.id", view.Counterpart.Name)
	assert.Equal(t, chat.ID, view.Chat.ID)

	message, err := session.Send(ctx, SendInput{TempID: "tmp-1", Text: "Is this available?"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v := rec.latest()
		return len(v.Messages) == 1 && v.Messages[0].Status == MessageSent && v.State == SessionReady
	}, time.Second, time.Millisecond)

	v := rec.latest()
	assert.Equal(t, message.ID, v.Messages[0].ID)
	assert.Equal(t, "tmp-1", v.Messages[0].TempID)
	assert.Eventually(t, func() bool {
		return session.tempIDCount() == 1
	}, time.Second, time.Millisecond)
	states := rec.states()
	assert.Contains(t, states, SessionSending)
	assert.Equal(t, SessionLoading, states[0])
}

func TestSessionConcurrentSends(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	rec := &views{}
	session := uc.OpenChat(ctx, "u1", chat.ID, rec.record)
	defer session.Close()

	var wg sync.WaitGroup
	for _, text := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := uc.SendText(ctx, session, text)
			assert.NoError(t, err)
		}(text)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		v := rec.latest()
		if len(v.Messages) != 4 || v.State != SessionReady {
			return false
		}
		for _, m := range v.Messages {
			if m.Status != MessageSent || m.TempID == "" {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func TestSessionFailedSendStaysVisible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uc := NewChatUseCase(env.chats, brokenMessageRepo{env.messages}, env.users, nil)
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	session := uc.OpenChat(ctx, "u1", chat.ID, nil)
	defer session.Close()

	_, err = session.Send(ctx, SendInput{TempID: "tmp-1", Text: "hello"})
	assert.True(t, errors.IsTransient(err))

	view := session.View()
	assert.Equal(t, SessionReady, view.State)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, MessageFailed, view.Messages[0].Status)
	assert.Equal(t, "tmp-1", view.Messages[0].TempID)
	assert.NotEmpty(t, view.Messages[0].Error)
	assert.Zero(t, session.tempIDCount(), "failed sends keep their client id on the entry only")

	stored, err := env.chats.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "", stored.LastMessage)
}

func TestSessionRejectsEmptySend(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	session := uc.OpenChat(ctx, "u1", chat.ID, nil)
	defer session.Close()

	_, err = session.Send(ctx, SendInput{})
	assert.True(t, errors.Is(err, errors.CodeValidation))
	assert.Empty(t, session.View().Messages)
}

func TestSessionOpenFailures(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	missing := uc.OpenChat(ctx, "u1", "u1_u7", nil)
	defer missing.Close()
	view := missing.View()
	assert.Equal(t, SessionError, view.State)
	assert.True(t, errors.Is(view.Err, errors.CodeNotFound))

	_, err = missing.Send(ctx, SendInput{Text: "hi"})
	assert.Error(t, err)

	outsider := uc.OpenChat(ctx, "u3", chat.ID, nil)
	defer outsider.Close()
	assert.True(t, errors.Is(outsider.View().Err, errors.CodeForbidden))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	uc := newTestEnv(t).useCase()
	ctx := context.Background()
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	session := uc.OpenChat(ctx, "u1", chat.ID, nil)
	session.Close()
	session.Close()

	_, err = session.Send(ctx, SendInput{Text: "late"})
	assert.Error(t, err)
}

func TestSessionTempIDsFollowStreamedMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	broken := NewChatUseCase(env.chats, brokenMessageRepo{env.messages}, env.users, nil)
	chat, err := broken.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	session := broken.OpenChat(ctx, "u1", chat.ID, nil)
	defer session.Close()
	for i := 0; i < 20; i++ {
		_, err := session.Send(ctx, SendInput{TempID: fmt.Sprintf("tmp-%d", i), Text: "lost"})
		require.Error(t, err)
	}
	assert.Len(t, session.View().Messages, 20)
	assert.Zero(t, session.tempIDCount())

	uc := env.useCase()
	rec := &views{}
	live := uc.OpenChat(ctx, "u1", chat.ID, rec.record)
	defer live.Close()
	for i := 0; i < 3; i++ {
		_, err := live.Send(ctx, SendInput{TempID: fmt.Sprintf("ok-%d", i), Text: "hi"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return live.tempIDCount() == 3
	}, time.Second, time.Millisecond)
	assert.Len(t, rec.latest().Messages, 3)
}

func TestSessionSurvivesTransientStreamFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	messages := newDroppingMessageRepo(env.messages)
	uc := NewChatUseCase(env.chats, messages, env.users, nil)
	chat, err := uc.StartOrResumeChat(ctx, "u1", StartChatInput{CounterpartID: "u2"})
	require.NoError(t, err)

	rec := &views{}
	session := uc.OpenChat(ctx, "u1", chat.ID, rec.record)
	defer session.Close()
	require.Equal(t, SessionReady, session.View().State)
	<-messages.served

	// Stored while the listener is stuck, so only a fresh snapshot shows it.
	_, err = uc.SendMessage(ctx, "u2", chat.ID, SendMessageInput{Text: "still there?"})
	require.NoError(t, err)
	assert.Empty(t, session.View().Messages)

	close(messages.drop)
	require.Eventually(t, func() bool {
		v := rec.latest()
		return len(v.Messages) == 1 && v.Messages[0].Text == "still there?"
	}, 2*time.Second, time.Millisecond)

	_, err = uc.SendMessage(ctx, "u2", chat.ID, SendMessageInput{Text: "hello?"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(rec.latest().Messages) == 2
	}, 2*time.Second, time.Millisecond)

	view := session.View()
	assert.Equal(t, SessionReady, view.State)
	assert.NoError(t, view.Err)
	assert.NotContains(t, rec.states(), SessionError)
	assert.NoError(t, session.sub.Err())
}

func TestMessageSubscriptionResumesWithFullSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	messages := newDroppingMessageRepo(env.messages)
	store := NewMessageStore(messages)

	_, err := store.Append(ctx, "u1_u2", "u1", entity.MessageContent{Text: "a"})
	require.NoError(t, err)

	var mu sync.Mutex
	var snapshots [][]*entity.Message
	sub := store.Subscribe(ctx, "u1_u2", func(list []*entity.Message) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, list)
	})
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) == 1
	}, time.Second, time.Millisecond)

	_, err = store.Append(ctx, "u1_u2", "u2", entity.MessageContent{Text: "b"})
	require.NoError(t, err)
	close(messages.drop)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) >= 2
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	resumed := snapshots[1]
	mu.Unlock()
	require.Len(t, resumed, 2, "the snapshot after a restart holds the whole list")
	assert.Equal(t, "a", resumed[0].Text)
	assert.Equal(t, "b", resumed[1].Text)
	assert.NoError(t, sub.Err())
	select {
	case <-sub.Done():
		t.Fatal("subscription ended after a transient failure")
	default:
	}
}
