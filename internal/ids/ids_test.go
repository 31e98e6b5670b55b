package ids

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIsValidAndUnique(t *testing.T) {
	a := New()
	b := New()
	assert.True(t, Valid(a))
	assert.True(t, Valid(b))
	assert.NotEqual(t, a, b)
}

func TestNewSortsByCreation(t *testing.T) {
	first := New()
	time.Sleep(2 * time.Millisecond)
	second := New()

	got := []string{second, first}
	sort.Strings(got)
	assert.Equal(t, []string{first, second}, got)
}

func TestValidRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "abc", "not-a-ulid-not-a-ulid-not-", "01ARZ3NDEKTSV4RRFFQ69G5FA!"} {
		assert.False(t, Valid(s), s)
	}
}

func TestNewIsMonotonicWithinMillisecond(t *testing.T) {
	prev := New()
	for range 100 {
		next := New()
		assert.Less(t, prev, next)
		prev = next
	}
}
