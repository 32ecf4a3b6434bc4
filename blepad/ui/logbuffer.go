package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const DefaultLogLines = 14

// LogBuffer is a logrus hook keeping the most recent entries, newest last.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	size  int
}

var _ logrus.Hook = (*LogBuffer)(nil)

func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultLogLines
	}
	return &LogBuffer{size: size}
}

func (b *LogBuffer) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (b *LogBuffer) Fire(entry *logrus.Entry) error {
	line := fmt.Sprintf("%s %-5s %s",
		entry.Time.Format("15:04:05"),
		strings.ToUpper(entry.Level.String()),
		strings.TrimRight(entry.Message, "\n"))

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == b.size {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:b.size-1]
	}
	b.lines = append(b.lines, line)
	return nil
}

func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
