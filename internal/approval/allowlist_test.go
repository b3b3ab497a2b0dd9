package approval

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRememberIsIdempotent(t *testing.T) {
	a := NewAllowlist()
	tokens := []string{"rm", "-rf", "x"}

	assert.True(t, a.Remember("ws1", tokens))
	assert.Equal(t, [][]string{{"rm", "-rf", "x"}}, a.Lookup("ws1"))

	assert.False(t, a.Remember("ws1", []string{"rm", "-rf", "x"}))
	assert.Equal(t, [][]string{{"rm", "-rf", "x"}}, a.Lookup("ws1"))
}

func TestRememberEmptyIsNoop(t *testing.T) {
	a := NewAllowlist()
	require.True(t, a.Remember("ws1", []string{"ls"}))

	assert.False(t, a.Remember("ws1", nil))
	assert.False(t, a.Remember("ws1", []string{}))
	assert.Equal(t, [][]string{{"ls"}}, a.Lookup("ws1"))

	assert.False(t, a.Remember("ws2", nil))
	assert.Empty(t, a.Lookup("ws2"))
}

func TestLookupUnknownWorkspace(t *testing.T) {
	got := NewAllowlist().Lookup("missing")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLookupPreservesInsertionOrderAndScopesByWorkspace(t *testing.T) {
	a := NewAllowlist()
	a.Remember("ws1", []string{"npm", "test"})
	a.Remember("ws1", []string{"git", "status"})
	a.Remember("ws2", []string{"make"})
	a.Remember("ws1", []string{"npm", "test"})

	assert.Equal(t, [][]string{{"npm", "test"}, {"git", "status"}}, a.Lookup("ws1"))
	assert.Equal(t, [][]string{{"make"}}, a.Lookup("ws2"))
}

func TestRememberDistinguishesTokenBoundaries(t *testing.T) {
	a := NewAllowlist()
	assert.True(t, a.Remember("ws", []string{"ab", "c"}))
	assert.True(t, a.Remember("ws", []string{"a", "bc"}))
	assert.Len(t, a.Lookup("ws"), 2)
}

func TestLookupReturnsCopies(t *testing.T) {
	a := NewAllowlist()
	input := []string{"git", "status"}
	a.Remember("ws", input)
	input[0] = "rm"

	got := a.Lookup("ws")
	got[0][1] = "push"

	assert.Equal(t, [][]string{{"git", "status"}}, a.Lookup("ws"))
}

func TestAllowsUsesPrefixes(t *testing.T) {
	a := NewAllowlist()
	a.Remember("ws", []string{"go", "test"})

	assert.True(t, a.Allows("ws", []string{"go", "test", "./..."}))
	assert.False(t, a.Allows("ws", []string{"go", "build"}))
	assert.False(t, a.Allows("other", []string{"go", "test"}))
}

func TestConcurrentRememberKeepsEntriesDistinct(t *testing.T) {
	a := NewAllowlist()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				a.Remember("ws", []string{"cmd", fmt.Sprint(j)})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, a.Lookup("ws"), 50)
}
