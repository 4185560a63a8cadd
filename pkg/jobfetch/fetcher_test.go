package jobfetch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	f := New(Config{Logger: zerolog.Nop()})
	assert.Equal(t, 30*time.Second, f.timeout)
	assert.Equal(t, 32*1024, f.maxTextBytes)
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	f := New(Config{Logger: zerolog.Nop()})

	_, err := f.Fetch(context.Background(), "not a url")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), "ftp://jobs.example.com/posting")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), "file:///etc/passwd")
	assert.Error(t, err)
}

func TestBoundText(t *testing.T) {
	t.Run("collapses blank runs", func(t *testing.T) {
		in := "Senior Go Engineer\n\n\n\nRemote\n\n  \nApply now"
		out, truncated := boundText(in, 1024)
		assert.False(t, truncated)
		assert.Equal(t, "Senior Go Engineer\n\nRemote\n\nApply now", out)
	})

	t.Run("truncates at byte limit", func(t *testing.T) {
		in := strings.Repeat("x", 100)
		out, truncated := boundText(in, 40)
		assert.True(t, truncated)
		assert.Len(t, out, 40)
	})

	t.Run("does not split multibyte rune", func(t *testing.T) {
		in := strings.Repeat("é", 30) // 2 bytes each
		out, truncated := boundText(in, 31)
		assert.True(t, truncated)
		assert.Len(t, out, 30)
		for _, r := range out {
			assert.NotEqual(t, '�', r)
		}
	})
}

func TestCloseWithoutLaunch(t *testing.T) {
	f := New(Config{Logger: zerolog.Nop()})
	assert.NoError(t, f.Close())
}
