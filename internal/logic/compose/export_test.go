package compose

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	tests := []struct {
		name string
		want string
	}{
		{"4 Foto - Polaroid Modern", "photobox_4_Foto_-_Polaroid_Modern_1700000000123.png"},
		{"Single", "photobox_Single_1700000000123.png"},
		{"tab\there", "photobox_tab_here_1700000000123.png"},
		{"two  spaces", "photobox_two__spaces_1700000000123.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Filename(tt.name, at), tt.name)
	}
}

func TestExporter_Render(t *testing.T) {
	x, err := NewExporter("", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, x.Title)
	assert.Equal(t, DefaultHeaderPx, x.HeaderPx)

	c := &Collage{LayoutName: "1 Foto - Polaroid Besar", Image: solid(800, 800, red)}
	at := time.Date(2026, time.March, 7, 15, 4, 5, 0, time.UTC)
	e, err := x.Render(c, at)
	require.NoError(t, err)

	assert.Equal(t, Filename(c.LayoutName, at), e.Filename)
	assert.True(t, strings.HasPrefix(e.Filename, "photobox_1_Foto_-_Polaroid_Besar_"))
	assert.Equal(t, 800, e.Width)
	assert.Equal(t, 880, e.Height)
	assert.True(t, strings.HasPrefix(e.DataURI(), "data:image/png;base64,"))

	img, err := png.Decode(bytes.NewReader(e.PNG))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 800, 880), img.Bounds())

	rgba := image.NewRGBA(img.Bounds())
	for y := 0; y < 880; y++ {
		for x := 0; x < 800; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	// header corners are plain background, text is centered
	assertColor(t, rgba, 0, 0, HeaderBackground)
	assertColor(t, rgba, 799, 79, HeaderBackground)
	assertColor(t, rgba, 5, 35, HeaderBackground)
	// collage below the band
	assertColor(t, rgba, 0, 80, red)
	assertColor(t, rgba, 799, 879, red)

	bright := 0
	for y := 10; y < 70; y++ {
		for x := 0; x < 800; x++ {
			if rgba.RGBAAt(x, y).R > 0xe0 {
				bright++
			}
		}
	}
	assert.Greater(t, bright, 100, "title and subtitle pixels")

	// the subtitle is drawn in the same white as the title
	white := 0
	for y := subBaseline - 14; y <= subBaseline; y++ {
		for x := 0; x < 800; x++ {
			if c := rgba.RGBAAt(x, y); c.R == 0xff && c.G == 0xff && c.B == 0xff {
				white++
			}
		}
	}
	assert.Greater(t, white, 10, "subtitle pixels")
}

func TestExporter_RenderCustomHeader(t *testing.T) {
	x, err := NewExporter("MY BOOTH", 40)
	require.NoError(t, err)
	e, err := x.Render(&Collage{LayoutName: "L", Image: solid(100, 100, green)}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100, e.Width)
	assert.Equal(t, 140, e.Height)
}

func TestExporter_RenderWithoutCollage(t *testing.T) {
	x, err := NewExporter("", 0)
	require.NoError(t, err)
	_, err = x.Render(nil, time.Now())
	assert.Error(t, err)
	_, err = x.Render(&Collage{}, time.Now())
	assert.Error(t, err)
}
