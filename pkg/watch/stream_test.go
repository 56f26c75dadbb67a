package watch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

func drainHandler(received *[]cdcevent.Event) Handler {
	return func(stream <-chan cdcevent.Event) error {
		for e := range stream {
			*received = append(*received, e)
		}
		return nil
	}
}

func TestStreamingWatcherDeliversEventsInOrder(t *testing.T) {
	var received []cdcevent.Event
	w := NewStreamingWatcher(drainHandler(&received), nil)

	begin := cdcevent.BeginTransaction{Xid: 1}
	ins := cdcevent.Insert{Xid: 1, PrimaryKey: cdcevent.PrimaryKey{int64(1)}}
	commit := cdcevent.CommitTransaction{Xid: 1}

	require.NoError(t, w.OnEvent(begin))
	require.NoError(t, w.OnEvent(ins))
	require.NoError(t, w.OnEvent(commit))

	require.Len(t, received, 3)
	assert.Equal(t, cdcevent.KindBeginTransaction, received[0].Kind())
	assert.Equal(t, cdcevent.KindInsert, received[1].Kind())
	assert.Equal(t, cdcevent.KindCommitTransaction, received[2].Kind())
}

func TestStreamingWatcherPropagatesWorkerFailureAtCommit(t *testing.T) {
	boom := errors.New("boom")
	w := NewStreamingWatcher(func(stream <-chan cdcevent.Event) error {
		for range stream {
		}
		return boom
	}, nil)

	require.NoError(t, w.OnEvent(cdcevent.BeginTransaction{Xid: 1}))
	err := w.OnEvent(cdcevent.CommitTransaction{Xid: 1})
	assert.ErrorIs(t, err, boom)
}

func TestStreamingWatcherExactlyOneWorkerAtATime(t *testing.T) {
	active := make(chan struct{}, 1)
	w := NewStreamingWatcher(func(stream <-chan cdcevent.Event) error {
		select {
		case active <- struct{}{}:
		default:
			t.Fatal("more than one worker active concurrently")
		}
		defer func() { <-active }()
		for range stream {
		}
		return nil
	}, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.OnEvent(cdcevent.BeginTransaction{Xid: uint32(i)}))
		require.NoError(t, w.OnEvent(cdcevent.CommitTransaction{Xid: uint32(i)}))
	}
}

type fixedSizer struct{ size int }

func (f fixedSizer) QueueSize(cdcevent.BeginTransaction) int { return f.size }

func TestStreamingWatcherQueueSizerOverridesDefault(t *testing.T) {
	var received []cdcevent.Event
	w := NewStreamingWatcher(drainHandler(&received), fixedSizer{size: 2})

	require.NoError(t, w.OnEvent(cdcevent.BeginTransaction{Xid: 1}))
	assert.Equal(t, 2, cap(w.queue))
	require.NoError(t, w.OnEvent(cdcevent.CommitTransaction{Xid: 1}))

	select {
	case <-time.After(time.Second):
		t.Fatal("worker never finished")
	default:
	}
}
