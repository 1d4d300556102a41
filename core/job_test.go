package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle(t *testing.T) {
	h := MakeHandle(7, 42)
	assert.Equal(t, uint32(7), h.Generation())
	assert.Equal(t, uint32(42), h.Index())
	assert.Equal(t, "job(42:7)", h.String())
	assert.NotEqual(t, InvalidHandle, MakeHandle(1, 0))

	last := MakeHandle(^uint32(0), ^uint32(0))
	assert.Equal(t, ^uint32(0), last.Generation())
	assert.Equal(t, ^uint32(0), last.Index())
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "queued", StatusQueued.String())
	assert.Equal(t, "unknown", Status(99).String())
	assert.True(t, StatusFinished.Settled())
	assert.True(t, StatusCanceled.Settled())
	assert.False(t, StatusProcessing.Settled())
	assert.False(t, StatusFree.Settled())
}

func TestResult(t *testing.T) {
	assert.Equal(t, "pending", ResultPending.String())
	assert.Equal(t, "invalid_handle", ResultInvalidHandle.String())
}

func TestResponses(t *testing.T) {
	ok := OK(map[string]int{"live": 3})
	assert.True(t, ok.Success)
	assert.Nil(t, ok.Error)
	assert.Equal(t, 3, ok.Data["live"])

	fail := Fail("NOT_FOUND", "no such job")
	assert.False(t, fail.Success)
	if assert.NotNil(t, fail.Error) {
		assert.Equal(t, "NOT_FOUND", fail.Error.Code)
		assert.Equal(t, "no such job", fail.Error.Message)
	}
}
