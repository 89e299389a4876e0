package sandbox

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	ok := Ok(42)
	v, present := ok.Value()
	assert.True(t, ok.IsOk())
	assert.True(t, present)
	assert.Equal(t, 42, v)
	assert.Equal(t, "42", ok.Text(strconv.Itoa))

	bad := Err[int]("File read failed: boom")
	_, present = bad.Value()
	assert.False(t, bad.IsOk())
	assert.False(t, present)
	assert.Equal(t, "File read failed: boom", bad.Text(strconv.Itoa))
}
