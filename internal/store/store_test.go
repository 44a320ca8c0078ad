package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/auryn-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Repository {
	t.Helper()

	sqliteRepo, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteRepo.Close() })

	badgerRepo, err := Open(DriverBadger, filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerRepo.Close() })

	return map[string]Repository{
		DriverSQLite: sqliteRepo,
		DriverBadger: badgerRepo,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, repo Repository)) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, repo)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	repo, err := Open("postgres", t.TempDir())
	require.Error(t, err)
	assert.Nil(t, repo)
}

func TestMessages_OrderedByTimestampThenInsertion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		base := time.UnixMilli(1_700_000_000_000)

		later := domain.NewMessage("c1", "later", true, false, base.Add(time.Second))
		first := domain.NewMessage("c1", "first", true, false, base)
		second := domain.NewMessage("c1", "second", false, false, base)
		other := domain.NewMessage("c10", "other conversation", true, false, base)

		for _, msg := range []*domain.Message{later, first, second, other} {
			require.NoError(t, repo.InsertMessage(ctx, msg))
		}

		msgs, err := repo.ListMessages(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "first", msgs[0].Content)
		assert.Equal(t, "second", msgs[1].Content)
		assert.Equal(t, "later", msgs[2].Content)
		assert.True(t, msgs[0].Timestamp.Equal(base))

		count, err := repo.CountMessages(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}

func TestMessages_EmptyConversation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		msgs, err := repo.ListMessages(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, msgs)

		count, err := repo.CountMessages(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestMessages_InsertReplacesSameID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		msg := domain.NewMessage("c1", "draft", true, false, time.Now())
		require.NoError(t, repo.InsertMessage(ctx, msg))

		edited := *msg
		edited.Content = "final"
		edited.VoiceEnabled = true
		require.NoError(t, repo.InsertMessage(ctx, &edited))

		got, err := repo.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "final", got.Content)
		assert.True(t, got.VoiceEnabled)

		count, err := repo.CountMessages(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestMessages_ReplaceKeepsPositionAmongTies(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		at := time.UnixMilli(1_700_000_000_000)
		a := domain.NewMessage("c1", "a", true, false, at)
		b := domain.NewMessage("c1", "b", false, false, at)
		require.NoError(t, repo.InsertMessage(ctx, a))
		require.NoError(t, repo.InsertMessage(ctx, b))

		edited := *a
		edited.Content = "a2"
		require.NoError(t, repo.InsertMessage(ctx, &edited))

		msgs, err := repo.ListMessages(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "a2", msgs[0].Content)
		assert.Equal(t, "b", msgs[1].Content)
	})
}

func TestObserveMessages_MovedMessageNotifiesOldConversation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		msg := domain.NewMessage("p1", "hello", true, false, time.Now())
		require.NoError(t, repo.InsertMessage(ctx, msg))

		updates := repo.ObserveMessages(ctx, "p1")
		select {
		case msgs := <-updates:
			require.Len(t, msgs, 1)
		case <-time.After(2 * time.Second):
			t.Fatal("no initial snapshot")
		}

		moved := *msg
		moved.ConversationID = "p2"
		require.NoError(t, repo.InsertMessage(ctx, &moved))

		select {
		case msgs := <-updates:
			assert.Empty(t, msgs)
		case <-time.After(2 * time.Second):
			t.Fatal("old conversation was not re-emitted")
		}

		count, err := repo.CountMessages(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestMessages_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		keep := domain.NewMessage("c1", "keep", true, false, time.Now())
		drop := domain.NewMessage("c1", "drop", false, false, time.Now())
		require.NoError(t, repo.InsertMessage(ctx, keep))
		require.NoError(t, repo.InsertMessage(ctx, drop))

		require.NoError(t, repo.DeleteMessage(ctx, drop.ID))
		require.NoError(t, repo.DeleteMessage(ctx, "never-existed"))

		got, err := repo.GetMessage(ctx, drop.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		msgs, err := repo.ListMessages(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, keep.ID, msgs[0].ID)

		require.NoError(t, repo.DeleteMessagesForConversation(ctx, "c1"))
		count, err := repo.CountMessages(ctx, "c1")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestConversations_UpsertGetList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		base := time.UnixMilli(1_700_000_000_000)

		older := domain.NewConversation("Older", base)
		newer := domain.NewConversation("", base.Add(time.Minute))
		require.NoError(t, repo.InsertConversation(ctx, older))
		require.NoError(t, repo.InsertConversation(ctx, newer))

		got, err := repo.GetConversation(ctx, newer.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.DefaultConversationTitle, got.Title)

		missing, err := repo.GetConversation(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, missing)

		list, err := repo.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)

		older.Touch(base.Add(time.Hour))
		require.NoError(t, repo.UpdateConversation(ctx, older))

		list, err = repo.ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, older.ID, list[0].ID)
		assert.Equal(t, 2, list[0].MessageCount)
		assert.True(t, list[0].CreatedAt.Equal(base))
	})
}

func TestConversations_UpdateMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		conv := domain.NewConversation("ghost", time.Now())
		err := repo.UpdateConversation(context.Background(), conv)
		require.ErrorIs(t, err, domain.ErrNotFound)

		got, err := repo.GetConversation(context.Background(), conv.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestConversations_DeleteCascadesMessages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		conv := domain.NewConversation("Doomed", time.Now())
		require.NoError(t, repo.InsertConversation(ctx, conv))
		msg := domain.NewMessage(conv.ID, "hi", true, false, time.Now())
		require.NoError(t, repo.InsertMessage(ctx, msg))
		require.NoError(t, repo.InsertMessage(ctx, domain.NewMessage("other", "stays", true, false, time.Now())))

		require.NoError(t, repo.DeleteConversation(ctx, conv.ID))

		got, err := repo.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		gotMsg, err := repo.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Nil(t, gotMsg)

		count, err := repo.CountMessages(ctx, "other")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestObserveMessages_ReemitsAfterWrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates := repo.ObserveMessages(ctx, "c1")

		select {
		case msgs := <-updates:
			assert.Empty(t, msgs)
		case <-time.After(2 * time.Second):
			t.Fatal("no initial snapshot")
		}

		require.NoError(t, repo.InsertMessage(ctx, domain.NewMessage("c1", "hello", true, false, time.Now())))

		require.Eventually(t, func() bool {
			select {
			case msgs := <-updates:
				return len(msgs) == 1 && msgs[0].Content == "hello"
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)

		cancel()
		require.Eventually(t, func() bool {
			_, ok := <-updates
			return !ok
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestObserveConversations_ReemitsAfterInsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates := repo.ObserveConversations(ctx)
		<-updates

		conv := domain.NewConversation("Live", time.Now())
		require.NoError(t, repo.InsertConversation(ctx, conv))

		require.Eventually(t, func() bool {
			select {
			case list := <-updates:
				return len(list) == 1 && list[0].ID == conv.ID
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestMessages_ConcurrentInserts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		const writers = 8
		const perWriter = 10

		var wg sync.WaitGroup
		errs := make(chan error, writers*perWriter)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					msg := domain.NewMessage("busy", fmt.Sprintf("w%d-%d", w, i), true, false, time.Now())
					if err := repo.InsertMessage(ctx, msg); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		count, err := repo.CountMessages(ctx, "busy")
		require.NoError(t, err)
		assert.Equal(t, writers*perWriter, count)
	})
}
