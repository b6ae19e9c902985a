package joblog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendAndTail(t *testing.T) {
	buf := NewBuffer(10)

	buf.Append("job-1", Entry{Level: "info", Stage: "routing", Message: "first"})
	buf.Append("job-1", Entry{Level: "info", Stage: "routing", Message: "second"})
	buf.Append("job-2", Entry{Level: "info", Stage: "routing", Message: "other job"})

	entries := buf.Tail("job-1", 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
	assert.False(t, entries[0].Timestamp.IsZero())

	assert.Len(t, buf.Tail("job-2", 0), 1)
	assert.Empty(t, buf.Tail("job-3", 0))
}

func TestBufferCapacity(t *testing.T) {
	buf := NewBuffer(3)

	for i := 0; i < 5; i++ {
		buf.Append("job-1", Entry{Message: fmt.Sprintf("entry %d", i)})
	}

	entries := buf.Tail("job-1", 0)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 2", entries[0].Message)
	assert.Equal(t, "entry 4", entries[2].Message)
}

func TestBufferTailLimit(t *testing.T) {
	buf := NewBuffer(10)
	for i := 0; i < 5; i++ {
		buf.Append("job-1", Entry{Message: fmt.Sprintf("entry %d", i)})
	}

	entries := buf.Tail("job-1", 2)
	require.Len(t, entries, 2)
	assert.Equal(t, "entry 3", entries[0].Message)
	assert.Equal(t, "entry 4", entries[1].Message)
}

func TestBufferDrop(t *testing.T) {
	buf := NewBuffer(10)
	buf.Append("job-1", Entry{Message: "something"})
	buf.Drop("job-1")
	assert.Empty(t, buf.Tail("job-1", 0))
}

func TestLoggerLevels(t *testing.T) {
	buf := NewBuffer(10)
	log := New("job-1", buf)

	log.Info("routing", "routed 3 files")
	log.FileWarn("validation", "file-2", "low confidence")
	log.FileError("agent_processing", "file-3", "extraction failed")

	entries := buf.Tail("job-1", 0)
	require.Len(t, entries, 3)
	assert.Equal(t, "info", entries[0].Level)
	assert.Empty(t, entries[0].FileID)
	assert.Equal(t, "warn", entries[1].Level)
	assert.Equal(t, "file-2", entries[1].FileID)
	assert.Equal(t, "error", entries[2].Level)
	assert.Equal(t, "agent_processing", entries[2].Stage)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	assert.NotPanics(t, func() {
		log.Info("routing", "ignored")
	})
}
