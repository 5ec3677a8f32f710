package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callscript/internal/observability"
)

func newTestQueue(t *testing.T, inbox *Inbox) *Queue {
	t.Helper()
	q := NewQueue(inbox, observability.Discard(), WithDelay(time.Millisecond))
	t.Cleanup(q.Close)
	return q
}

func TestQueueRunsInIssueOrder(t *testing.T) {
	q := newTestQueue(t, NewInbox(0))

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, q.Enqueue(Command{Name: "save", Run: func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}}))
	}
	q.Wait()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	inbox := NewInbox(0)
	q := newTestQueue(t, inbox)

	calls := 0
	var doneErr error
	require.NoError(t, q.Enqueue(Command{
		Name:   "selection.save",
		UserID: "007",
		Run: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("store unavailable")
			}
			return nil
		},
		Done: func(err error) { doneErr = err },
	}))
	q.Wait()

	assert.Equal(t, 3, calls)
	assert.NoError(t, doneErr)
	assert.Empty(t, inbox.Drain("007"))
}

func TestQueueNotifiesOnFinalFailure(t *testing.T) {
	inbox := NewInbox(0)
	q := newTestQueue(t, inbox)

	calls := 0
	var doneErr error
	require.NoError(t, q.Enqueue(Command{
		Name:    "selection.save",
		UserID:  "007",
		Failure: "Selection not saved.",
		Run: func(context.Context) error {
			calls++
			return errors.New("write rejected")
		},
		Done: func(err error) { doneErr = err },
	}))
	q.Wait()

	assert.Equal(t, 3, calls)
	require.Error(t, doneErr)
	notes := inbox.Drain("007")
	require.Len(t, notes, 1)
	assert.Equal(t, LevelError, notes[0].Level)
	assert.Equal(t, "Selection not saved.", notes[0].Message)
	assert.Equal(t, "selection.save", notes[0].Command)
	assert.Empty(t, inbox.Drain("007"))
}

func TestQueueCloseDrainsAndRejects(t *testing.T) {
	q := NewQueue(nil, observability.Discard())
	ran := false
	require.NoError(t, q.Enqueue(Command{Name: "slow", Run: func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		ran = true
		return nil
	}}))
	q.Close()
	assert.True(t, ran)
	assert.ErrorIs(t, q.Enqueue(Command{Name: "late", Run: func(context.Context) error { return nil }}), ErrClosed)
	q.Close()
}

func TestInboxKeepsMostRecent(t *testing.T) {
	inbox := NewInbox(2)
	inbox.Notify("u", Notification{Message: "one"})
	inbox.Notify("u", Notification{Message: "two"})
	inbox.Notify("u", Notification{Message: "three"})
	inbox.Notify("other", Notification{Message: "x"})

	notes := inbox.Drain("u")
	require.Len(t, notes, 2)
	assert.Equal(t, "two", notes[0].Message)
	assert.Equal(t, "three", notes[1].Message)
	assert.NotEmpty(t, notes[0].ID)
	assert.Equal(t, LevelInfo, notes[0].Level)
	assert.Len(t, inbox.Drain("other"), 1)
}
