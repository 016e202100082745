package assembler

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/contextkit/pkg/domain"
)

// recordingEmitter captures StreamProgress calls.
type recordingEmitter struct {
	mu       sync.Mutex
	partials []string
	tokens   []int
}

func (r *recordingEmitter) InvocationChanged(*domain.InvocationRecord) {}

func (r *recordingEmitter) StreamProgress(_ string, partial string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, partial)
	r.tokens = append(r.tokens, tokens)
}

func TestAssembleConcatenation(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	require.NoError(t, a.Append("s1", "Hello", 0))
	require.NoError(t, a.Append("s1", ", ", 1))
	require.NoError(t, a.Append("s1", "world", 2))

	res, err := a.Complete("s1", "", 3)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", res.Content)
	assert.Equal(t, 3, res.Tokens)
	assert.False(t, res.Incomplete)
	assert.NoError(t, res.Err)
}

func TestDeclaredContentWins(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	require.NoError(t, a.Append("s1", "Hel", 0))
	require.NoError(t, a.Append("s1", "lo", 1))

	res, err := a.Complete("s1", "Hello.", 2)
	require.NoError(t, err)
	assert.Equal(t, "Hello.", res.Content)
}

func TestTokenCountMismatchRejected(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	require.NoError(t, a.Append("s1", "one", 0))

	_, err := a.Complete("s1", "one", 5)
	require.Error(t, err)
	assert.Equal(t, domain.KindStreamProtocol, domain.KindOf(err))
}

func TestOutOfOrderTokenRejected(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	require.NoError(t, a.Append("s1", "one", 0))

	err := a.Append("s1", "three", 2)
	require.Error(t, err)
	assert.Equal(t, domain.KindStreamProtocol, domain.KindOf(err))
}

func TestEventsAfterCloseRejected(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	_, err := a.Complete("s1", "done", 0)
	require.NoError(t, err)

	err = a.Append("s1", "late", 0)
	require.ErrorIs(t, err, domain.ErrStreamClosed)

	_, err = a.Complete("s1", "again", 0)
	require.ErrorIs(t, err, domain.ErrStreamClosed)

	_, err = a.Fail("s1", errors.New("late failure"))
	require.ErrorIs(t, err, domain.ErrStreamClosed)
}

func TestReopenRejected(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	_, err := a.Complete("s1", "done", 0)
	require.NoError(t, err)

	err = a.Open("s1")
	require.Error(t, err)
	assert.Equal(t, domain.KindStreamProtocol, domain.KindOf(err))
}

func TestFailRetainsPartial(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	require.NoError(t, a.Append("s1", "partial ", 0))
	require.NoError(t, a.Append("s1", "answer", 1))

	cause := domain.NewConnectionError("stream dropped", nil)
	res, err := a.Fail("s1", cause)
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Equal(t, "partial answer", res.Content)
	assert.Equal(t, 2, res.Tokens)
	assert.ErrorIs(t, res.Err, cause)

	got, err := a.Result("s1")
	require.NoError(t, err)
	assert.Same(t, res, got)
}

func TestEmitterSeesIncrementalPartials(t *testing.T) {
	em := &recordingEmitter{}
	a := New(WithEmitter(em))
	require.NoError(t, a.Open("s1"))
	require.NoError(t, a.Append("s1", "a", 0))
	require.NoError(t, a.Append("s1", "b", 1))
	require.NoError(t, a.Append("s1", "c", 2))

	em.mu.Lock()
	defer em.mu.Unlock()
	assert.Equal(t, []string{"a", "ab", "abc"}, em.partials)
	assert.Equal(t, []int{1, 2, 3}, em.tokens)
}

func TestUnknownStream(t *testing.T) {
	a := New()
	err := a.Append("ghost", "x", 0)
	require.Error(t, err)
	assert.Equal(t, domain.KindStreamProtocol, domain.KindOf(err))

	_, _, err = a.Partial("ghost")
	require.Error(t, err)
}

func TestForgetDropsState(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	_, err := a.Complete("s1", "done", 0)
	require.NoError(t, err)

	a.Forget("s1")
	require.NoError(t, a.Open("s1"))
}

func TestIndependentStreams(t *testing.T) {
	a := New()
	require.NoError(t, a.Open("s1"))
	require.NoError(t, a.Open("s2"))
	require.NoError(t, a.Append("s1", "left", 0))
	require.NoError(t, a.Append("s2", "right", 0))

	r1, err := a.Complete("s1", "", 1)
	require.NoError(t, err)
	r2, err := a.Complete("s2", "", 1)
	require.NoError(t, err)
	assert.Equal(t, "left", r1.Content)
	assert.Equal(t, "right", r2.Content)
}
