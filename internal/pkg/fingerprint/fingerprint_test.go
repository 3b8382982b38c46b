package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumIsDeterministic(t *testing.T) {
	a := Sum([]byte("hello world"))
	b := Sum([]byte("hello world"))
	assert.Equal(t, a, b)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", a)
}

func TestSumDiffersForDifferentContent(t *testing.T) {
	assert.NotEqual(t, Sum([]byte("a")), Sum([]byte("b")))
}
