package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromVerbosity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		verbose int
		want    LogLevel
	}{
		{"verbose_1_error", 1, ErrorLevel},
		{"verbose_2_warn", 2, WarnLevel},
		{"verbose_3_info", 3, InfoLevel},
		{"verbose_4_debug", 4, DebugLevel},
		{"verbose_5_trace", 5, TraceLevel},
		{"verbose_0_clamped", 0, ErrorLevel},
		{"verbose_100_clamped", 100, TraceLevel},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, LevelFromVerbosity(tt.verbose))
		})
	}
}

func TestLastSegment(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "readme.txt", LastSegment(`C:\Users\readme.txt`))
	assert.Equal(t, "C:", LastSegment("C:"))
	assert.Equal(t, "", LastSegment(`C:\`))
	assert.Equal(t, "noslash", LastSegment("noslash"))
	assert.Equal(t, "notes.md", LastSegment("/home/u/notes.md"))
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0 B", FormatFileSize(0))
	assert.Equal(t, "1023 B", FormatFileSize(1023))
	assert.Equal(t, "1.0 KB", FormatFileSize(1024))
	assert.Equal(t, "1.5 MB", FormatFileSize(1572864))
	assert.Equal(t, "2.0 GB", FormatFileSize(2147483648))
	assert.Equal(t, "1.0 TB", FormatFileSize(1<<40))
	assert.Equal(t, "1024.0 TB", FormatFileSize(1<<50))
}

func TestPointer(t *testing.T) {
	t.Parallel()

	v := Pointer(42)
	assert.Equal(t, 42, *v)

	s := Pointer("x")
	assert.Equal(t, "x", *s)
}
