package compose

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/photobox/internal/layout"
)

func TestAssets_Builtins(t *testing.T) {
	a := NewAssets(t.TempDir())
	l := getLayout(t, "L_4_SQUARE")

	img, err := a.Load(context.Background(), "builtin:polaroid", l)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, layout.CollageSize, layout.CollageSize), img.Bounds())

	rgba := img.(*image.RGBA)
	for _, p := range l.Placements {
		_, _, _, alpha := rgba.At(p.X+p.W/2, p.Y+p.H/2).RGBA()
		assert.Zero(t, alpha, "window %v must be transparent", p)
	}
	assertColor(t, rgba, 400, 400, PolaroidFrame)

	_, err = a.Load(context.Background(), "builtin:none", l)
	assert.NoError(t, err)
	_, err = a.Load(context.Background(), "builtin:hearts", l)
	assert.Error(t, err)
}

func TestAssets_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	fh, err := os.Create(filepath.Join(dir, "frame.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(fh, solid(20, 20, blue)))
	require.NoError(t, fh.Close())

	a := NewAssets(dir)
	img, err := a.Load(context.Background(), "frame.png", layout.Layout{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
}

func TestAssets_RejectsEscapingPaths(t *testing.T) {
	a := NewAssets(t.TempDir())
	for _, ref := range []string{"", "../secret.png", "/etc/passwd"} {
		_, err := a.Load(context.Background(), ref, layout.Layout{})
		assert.Error(t, err, ref)
	}
}

func TestAssets_MissingAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("nope"), 0o644))
	a := NewAssets(dir)

	_, err := a.Load(context.Background(), "missing.png", layout.Layout{})
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = a.Load(context.Background(), "broken.png", layout.Layout{})
	assert.Error(t, err)
}

func TestEngine_ScalesSmallOverlayFullBleed(t *testing.T) {
	dir := t.TempDir()
	fh, err := os.Create(filepath.Join(dir, "tint.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(fh, solid(10, 10, blue)))
	require.NoError(t, fh.Close())

	l := getLayout(t, "L_1_SINGLE")
	l.Overlay = "tint.png"
	c, err := NewEngine(NewAssets(dir)).Compose(context.Background(), l, nil)
	require.NoError(t, err)
	assert.True(t, c.Overlay)
	assertColor(t, c.Image, 0, 0, blue)
	assertColor(t, c.Image, 799, 799, blue)
}
