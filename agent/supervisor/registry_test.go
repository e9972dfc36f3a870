package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/guseggert/procrelay/agent/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewRegistryValidation(t *testing.T) {
	cases := []struct {
		name   string
		cfgs   []Config
		expErr string
	}{
		{name: "no slots", expErr: "no slots configured"},
		{name: "empty name", cfgs: []Config{{Path: "cat"}}, expErr: "slot name must not be empty"},
		{name: "duplicate", cfgs: []Config{{Slot: "a", Path: "cat"}, {Slot: "a", Path: "cat"}}, expErr: `duplicate slot "a"`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r, err := NewRegistry(c.cfgs, newRecorder())
			assert.Nil(t, r)
			assert.EqualError(t, err, c.expErr)
		})
	}
}

func newRegistry(t *testing.T, cfgs ...Config) (*Registry, *recorder) {
	t.Helper()
	rec := newRecorder()
	r, err := NewRegistry(cfgs, rec, WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, r.Shutdown(ctx))
	})
	return r, rec
}

func TestRegistryLookup(t *testing.T) {
	r, _ := newRegistry(t,
		Config{Slot: "main", Path: "cat"},
		Config{Slot: "companionA", Path: "cat"},
	)

	assert.Equal(t, []string{"main", "companionA"}, r.Names())
	assert.Equal(t, "main", r.Default().Slot())

	s, ok := r.Get("")
	require.True(t, ok)
	assert.Equal(t, "main", s.Slot())

	s, ok = r.Get("companionA")
	require.True(t, ok)
	assert.Equal(t, "companionA", s.Slot())

	_, ok = r.Get("nope")
	assert.False(t, ok)

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "main", statuses[0].Slot)
	assert.Equal(t, "companionA", statuses[1].Slot)
	assert.True(t, statuses[0].Installed)
}

func TestSlotFailureDoesNotAffectOtherSlots(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t,
		Config{Slot: "main", Path: "cat"},
		Config{Slot: "broken", Path: "/nonexistent/procrelay-test-bin"},
	)
	main, _ := r.Get("main")
	broken, _ := r.Get("broken")

	require.NoError(t, main.Start(ctx))
	require.NoError(t, broken.Start(ctx))

	ev := rec.next(t, isKind(process.KindError))
	assert.Equal(t, "broken", ev.Slot)
	assert.Equal(t, process.ErrorKindSpawn, ev.ErrorKind)

	assert.Equal(t, Running, main.Status().State)
	assert.Equal(t, Idle, broken.Status().State)

	require.NoError(t, main.SendInput(ctx, "still alive"))
	out := rec.next(t, isKind(process.KindStdout))
	assert.Equal(t, "main", out.Slot)
}

func TestRegistryShutdownStopsAllSlots(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	r, err := NewRegistry([]Config{
		{Slot: "a", Path: "cat"},
		{Slot: "b", Path: "cat"},
		{Slot: "c", Path: "cat"},
	}, rec, WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)

	a, _ := r.Get("a")
	b, _ := r.Get("b")
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(shutdownCtx))

	assert.Equal(t, 2, count(rec.snapshot(), isKind(process.KindTerminated)))
	for _, name := range r.Names() {
		s, _ := r.Get(name)
		assert.ErrorIs(t, s.Start(ctx), ErrClosed)
	}
}
