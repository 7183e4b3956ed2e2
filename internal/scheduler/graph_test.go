package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyGraph(t *testing.T) {
	t.Run("NoCycle", func(t *testing.T) {
		g := newDependencyGraph()
		g.add("a", nil)
		g.add("b", []string{"a"})

		err := g.wouldCycle("c", []string{"a", "b"})
		assert.NoError(t, err)
	})

	t.Run("SelfDependency", func(t *testing.T) {
		g := newDependencyGraph()

		err := g.wouldCycle("a", []string{"a"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircularDependency)
	})

	t.Run("DirectCycle", func(t *testing.T) {
		g := newDependencyGraph()
		g.add("a", []string{"b"})

		err := g.wouldCycle("b", []string{"a"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircularDependency)
	})

	t.Run("TransitiveCycle", func(t *testing.T) {
		g := newDependencyGraph()
		g.add("a", []string{"b"})
		g.add("b", []string{"c"})

		err := g.wouldCycle("c", []string{"a"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCircularDependency)
	})

	t.Run("DiamondIsNotACycle", func(t *testing.T) {
		g := newDependencyGraph()
		g.add("a", nil)
		g.add("b", []string{"a"})
		g.add("c", []string{"a"})

		err := g.wouldCycle("d", []string{"b", "c"})
		assert.NoError(t, err)
	})

	t.Run("RemoveBreaksCycle", func(t *testing.T) {
		g := newDependencyGraph()
		g.add("a", []string{"b"})
		g.add("b", nil)

		require.Error(t, g.wouldCycle("b", []string{"a"}))

		g.remove("a")
		assert.NoError(t, g.wouldCycle("b", []string{"a"}))
	})
}
