package errors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	ee := Newf("boom").Build()

	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.Equal(t, "boom", ee.Error())
	assert.WithinDuration(t, time.Now(), ee.GetTimestamp(), time.Second)
}

func TestBuilderContext(t *testing.T) {
	ee := Newf("buffer too short: %d samples", 100).
		Component("audio").
		Category(CategoryValidation).
		Context("minimum", 2048).
		Context("actual", 100).
		Build()

	assert.Equal(t, "audio", ee.Component)
	assert.Equal(t, CategoryValidation, ee.Category)

	ctx := ee.GetContext()
	assert.Equal(t, 2048, ctx["minimum"])
	assert.Equal(t, 100, ctx["actual"])

	// Mutating the copy must not affect the error
	ctx["minimum"] = 0
	assert.Equal(t, 2048, ee.GetContext()["minimum"])
}

func TestUnwrapPreservesSentinel(t *testing.T) {
	sentinel := NewStd("sentinel")
	ee := New(sentinel).Category(CategoryAudioDecode).Build()

	assert.True(t, Is(ee, sentinel))

	var target *EnhancedError
	require.True(t, As(ee, &target))
	assert.Equal(t, CategoryAudioDecode, target.Category)
}

func TestIsCategory(t *testing.T) {
	timeoutErr := Newf("operation timed out").Category(CategoryTimeout).Build()
	cancelErr := Newf("operation cancelled").Category(CategoryCancellation).Build()

	assert.True(t, IsTimeout(timeoutErr))
	assert.False(t, IsTimeout(cancelErr))
	assert.True(t, IsCancellation(cancelErr))
	assert.False(t, IsCategory(NewStd("plain"), CategoryTimeout))
}
