package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/vizloop/internal/pipeline"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "fixture.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"empty", ""},
		{"not allowed", "curl {url} -o {out}"},
		{"shell syntax", "cp a {out} && rm -rf /"},
		{"missing out placeholder", "cp a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Command: tt.command, AllowedCommands: []string{"cp"}}, nil)
			assert.Error(t, err)
		})
	}
}

func TestCapture_ReadsImage(t *testing.T) {
	fixture := writePNG(t, 32, 20)
	c, err := New(Config{
		Command:         "cp " + fixture + " {out}",
		AllowedCommands: []string{"cp"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	snap, err := c.Capture(context.Background(), "http://localhost:3000", pipeline.Viewport{Width: 1280, Height: 800})
	require.NoError(t, err)

	assert.Equal(t, "image/png", snap.MediaType)
	assert.Equal(t, 32, snap.Width)
	assert.Equal(t, 20, snap.Height)
	assert.NotEmpty(t, snap.Data)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestCapture_NoOutput(t *testing.T) {
	c, err := New(Config{Command: "true {out}", AllowedCommands: []string{"true"}}, nil)
	require.NoError(t, err)

	_, err = c.Capture(context.Background(), "http://localhost:3000", pipeline.Viewport{Width: 10, Height: 10})
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestCapture_CommandFails(t *testing.T) {
	c, err := New(Config{Command: "false {out}", AllowedCommands: []string{"false"}}, nil)
	require.NoError(t, err)

	_, err = c.Capture(context.Background(), "http://localhost:3000", pipeline.Viewport{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoOutput)
}

func TestCapture_NotAnImage(t *testing.T) {
	src := filepath.Join(t.TempDir(), "page.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))

	c, err := New(Config{Command: "cp " + src + " {out}", AllowedCommands: []string{"cp"}}, nil)
	require.NoError(t, err)

	_, err = c.Capture(context.Background(), "http://localhost:3000", pipeline.Viewport{})
	assert.ErrorContains(t, err, "decoding capture")
}
