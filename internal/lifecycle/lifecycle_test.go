package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bookacut/queuesync/pkg/logger"
)

func TestCoordinator_NotifiesOnTransition(t *testing.T) {
	c := New(logger.InitializeTestZapLogger())

	type transition struct{ old, new State }
	var seen []transition
	c.Subscribe(func(old, new State) {
		seen = append(seen, transition{old, new})
	})

	c.Set(StateBackground)
	c.Set(StateActive)

	assert.Equal(t, []transition{
		{StateActive, StateBackground},
		{StateBackground, StateActive},
	}, seen)
	assert.Equal(t, StateActive, c.State())
}

func TestCoordinator_SameStateIsNoOp(t *testing.T) {
	c := New(logger.InitializeTestZapLogger())

	calls := 0
	c.Subscribe(func(old, new State) { calls++ })

	c.Set(StateActive) // already active
	assert.Zero(t, calls)
}

func TestCoordinator_UnsubscribeIsIdempotent(t *testing.T) {
	c := New(logger.InitializeTestZapLogger())

	first := 0
	second := 0
	remove := c.Subscribe(func(old, new State) { first++ })
	c.Subscribe(func(old, new State) { second++ })

	remove()
	remove()

	c.Set(StateBackground)

	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}
