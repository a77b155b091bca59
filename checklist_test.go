package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecklist_CheckUnordered(t *testing.T) {
	c := Checklist{Lines: []string{"Publisher initialized", "Subscriber initialized"}}

	res := c.Check("Subscriber initialized\nPublisher initialized\n")
	assert.True(t, res.Passed)
	assert.Empty(t, res.Missing)

	res = c.Check("Subscriber initialized\n")
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"Publisher initialized"}, res.Missing)
}

func TestChecklist_CheckOrdered(t *testing.T) {
	c := Checklist{Lines: []string{"Publisher initialized", "Subscriber initialized"}, Ordered: true}

	res := c.Check("Publisher initialized\nSubscriber initialized\n")
	assert.True(t, res.Passed)

	res = c.Check("Subscriber initialized\nPublisher initialized\n")
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"Subscriber initialized"}, res.Missing)
}

func TestChecklist_CheckForbidden(t *testing.T) {
	c := Checklist{Lines: []string{"Hello World!"}, Forbidden: []string{"E:"}}

	res := c.Check("Hello World!\n")
	assert.True(t, res.Passed)

	res = c.Check("E: container failed\nHello World!\n")
	assert.False(t, res.Passed)
	assert.Empty(t, res.Missing)
	assert.Equal(t, []string{"E:"}, res.Forbidden)
}

func TestChecklist_VerifyOrdered(t *testing.T) {
	src := &scriptedSource{chunks: []string{
		"*** Booting ***\npowered by Ocre\n",
		"Generic blinking started.\n",
		"Demo completed successfully\n",
	}}
	c := Checklist{
		Lines:   []string{"powered by Ocre", "Generic blinking started.", "Demo completed successfully"},
		Ordered: true,
		Timeout: 200 * time.Millisecond,
	}

	res, err := c.Verify(NewMatcher(src))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Contains(t, res.Output, "Booting")
}

func TestChecklist_VerifyOrderedStopsAtFirstMissing(t *testing.T) {
	src := &scriptedSource{chunks: []string{"Generic blinking started.\npowered by Ocre\n"}}
	c := Checklist{
		Lines:   []string{"powered by Ocre", "Generic blinking started."},
		Ordered: true,
		Timeout: 50 * time.Millisecond,
	}

	res, err := c.Verify(NewMatcher(src))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"Generic blinking started."}, res.Missing)
	assert.Contains(t, res.Output, "powered by Ocre")
}

func TestChecklist_VerifyUnorderedAcceptsEarlierLines(t *testing.T) {
	src := &scriptedSource{chunks: []string{
		"Subscriber initialized\nPublisher initialized\n",
		"Publisher exited with status 0\n",
	}}
	c := Checklist{
		Lines:   []string{"Publisher initialized", "Subscriber initialized", "Publisher exited with status 0"},
		Timeout: 200 * time.Millisecond,
	}

	res, err := c.Verify(NewMatcher(src))
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestChecklist_VerifyUnorderedReportsAllMissing(t *testing.T) {
	src := &scriptedSource{chunks: []string{"Subscriber initialized\n"}}
	c := Checklist{
		Lines:   []string{"Publisher initialized", "Subscriber initialized", "Demo completed successfully"},
		Timeout: 50 * time.Millisecond,
	}

	res, err := c.Verify(NewMatcher(src))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"Publisher initialized", "Demo completed successfully"}, res.Missing)
}

func TestChecklist_VerifyForbiddenInStream(t *testing.T) {
	src := &scriptedSource{chunks: []string{"E: no wasm\nHello World!\n"}}
	c := Checklist{
		Lines:     []string{"Hello World!"},
		Forbidden: []string{"E:"},
		Timeout:   50 * time.Millisecond,
	}

	res, err := c.Verify(NewMatcher(src))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"E:"}, res.Forbidden)
}
