package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_Ready(t *testing.T) {
	f := Go(context.Background(), func(ctx context.Context) (string, error) {
		return "value", nil
	})
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestGo_Failed(t *testing.T) {
	backendErr := errors.New("disk corrupted")
	f := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 0, backendErr
	})
	_, err := f.Get()
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, Failed, f.State())
}

// The three discard cases below cover every outcome a discard request can
// lead to: honoured, ignored with a value, ignored with a failure.

func TestGo_DiscardHonoured(t *testing.T) {
	started := make(chan struct{})
	f := Go(context.Background(), func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	<-started
	f.Discard()
	assert.True(t, f.IsDone())
	assert.False(t, f.IsCancelled())

	o := f.Await()
	assert.Equal(t, Discarded, o.State)
	_, err := f.Get()
	assert.ErrorIs(t, err, ErrDiscarded)
	assert.False(t, f.IsCancelled())
}

func TestGo_DiscardIgnoredReady(t *testing.T) {
	release := make(chan struct{})
	f := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 11, nil
	})

	f.Discard()
	assert.True(t, f.IsDone())
	assert.True(t, f.IsPending())
	close(release)

	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 11, v)
	assert.False(t, f.IsCancelled())
}

func TestGo_DiscardIgnoredFailed(t *testing.T) {
	release := make(chan struct{})
	backendErr := errors.New("connection lost")
	f := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 0, backendErr
	})

	f.Discard()
	close(release)

	o := f.Await()
	assert.Equal(t, Failed, o.State)
	assert.ErrorIs(t, o.Err, backendErr)
	assert.False(t, f.IsCancelled())
}

func TestGo_ParentCancellationIsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := Go(ctx, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	cancel()

	o := f.Await()
	assert.Equal(t, Failed, o.State, "only a discard request turns cancellation into Discarded")
	assert.ErrorIs(t, o.Err, context.Canceled)
}

func TestGo_ContextReleasedOnResolution(t *testing.T) {
	ctxCh := make(chan context.Context, 1)
	f := Go(context.Background(), func(ctx context.Context) (int, error) {
		ctxCh <- ctx
		return 1, nil
	})
	_, err := f.Get()
	require.NoError(t, err)

	runCtx := <-ctxCh
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("operation context should be released after resolution")
	}
}
