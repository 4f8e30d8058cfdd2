package proc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTail_KeepsLastLines(t *testing.T) {
	tail := NewTail(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(tail, "line %d\n", i)
	}
	assert.Equal(t, "line 3\nline 4\nline 5", tail.String())
}

func TestTail_SplitWritesAndPartialLine(t *testing.T) {
	tail := NewTail(2)
	_, _ = tail.Write([]byte("err"))
	_, _ = tail.Write([]byte("or one\r\n\nerror "))
	_, _ = tail.Write([]byte("two"))
	assert.Equal(t, "error one\nerror two", tail.String())
}

func TestInterrupt_NotStarted(t *testing.T) {
	assert.NoError(t, Interrupt(nil))
	assert.NoError(t, Interrupt(Command("does-not-matter")))
}
