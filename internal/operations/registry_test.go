package operations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"econetl/internal/operations"
	"econetl/internal/operations/testutil"
)

func stepIDs(steps []operations.Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID()
	}
	return ids
}

func TestRegistryRegister(t *testing.T) {
	r := operations.NewRegistry()
	assert.Equal(t, 0, r.Count())
	assert.NotNil(t, r.List())

	s1 := testutil.NewMockStage("a")
	require.NoError(t, r.Register(s1))
	require.NoError(t, r.Register(testutil.NewMockStage("b")))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, s1, got)
	assert.True(t, r.Has("b"))
	assert.Equal(t, []string{"a", "b"}, stepIDs(r.List()))
}

func TestRegistryRegisterErrors(t *testing.T) {
	r := operations.NewRegistry()

	assert.ErrorContains(t, r.Register(nil), "nil step")
	assert.ErrorContains(t, r.Register(testutil.NewMockStage("")), "empty")

	require.NoError(t, r.Register(testutil.NewMockStage("a")))
	assert.ErrorContains(t, r.Register(testutil.NewMockStage("a")), "already registered")

	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestRegistryDependencyOrder(t *testing.T) {
	r := operations.NewRegistry()
	require.NoError(t, r.Register(testutil.NewMockStage("load", "gold")))
	require.NoError(t, r.Register(testutil.NewMockStage("gold", "silver")))
	require.NoError(t, r.Register(testutil.NewMockStage("extract")))
	require.NoError(t, r.Register(testutil.NewMockStage("silver", "extract")))

	ordered, err := r.GetDependencyOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"extract", "silver", "gold", "load"}, stepIDs(ordered))
}

func TestRegistryKeepsRegistrationOrderAmongReadySteps(t *testing.T) {
	r := operations.NewRegistry()
	require.NoError(t, r.Register(testutil.NewMockStage("root")))
	require.NoError(t, r.Register(testutil.NewMockStage("z", "root")))
	require.NoError(t, r.Register(testutil.NewMockStage("a", "root")))

	ordered, err := r.GetDependencyOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "z", "a"}, stepIDs(ordered))
}

func TestRegistryDetectsCyclesAndUnknownDependencies(t *testing.T) {
	r := operations.NewRegistry()
	require.NoError(t, r.Register(testutil.NewMockStage("a", "b")))
	require.NoError(t, r.Register(testutil.NewMockStage("b", "a")))
	_, err := r.GetDependencyOrder()
	assert.ErrorContains(t, err, "cycle")

	r = operations.NewRegistry()
	require.NoError(t, r.Register(testutil.NewMockStage("a", "ghost")))
	_, err = r.GetDependencyOrder()
	assert.ErrorContains(t, err, "unknown step ghost")
}

func TestRegistryGetDependents(t *testing.T) {
	r := operations.NewRegistry()
	require.NoError(t, r.Register(testutil.NewMockStage("extract")))
	require.NoError(t, r.Register(testutil.NewMockStage("silver", "extract")))
	require.NoError(t, r.Register(testutil.NewMockStage("gold", "silver")))

	assert.Equal(t, []string{"silver"}, stepIDs(r.GetDependents("extract")))
	assert.Empty(t, r.GetDependents("gold"))
}
