package compose

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"regexp"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/cjeanneret/photobox/internal/debug"
)

// Header band defaults.
const (
	DefaultHeaderPx = 80
	DefaultTitle    = "FRAME MAKER PHOTOBOX"

	titleSize     = 28
	subtitleSize  = 18
	titleBaseline = 35
	subBaseline   = 60
	dateLayout    = "2/1/2006"
)

var (
	HeaderBackground = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	textColor        = color.White

	whitespace = regexp.MustCompile(`\s`)
)

// Export is a downloadable collage.
type Export struct {
	Filename string `json:"filename"`
	PNG      []byte `json:"-"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// DataURI returns the export as a PNG data URI, the href of a download link.
func (e *Export) DataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(e.PNG)
}

// Filename builds photobox_<layout name, spaces as underscores>_<epoch ms>.png.
func Filename(layoutName string, at time.Time) string {
	return fmt.Sprintf("photobox_%s_%d.png", whitespace.ReplaceAllString(layoutName, "_"), at.UnixMilli())
}

// Exporter draws a header band with a title and a "<layout> - <date>"
// subtitle above a collage.
type Exporter struct {
	Title    string
	HeaderPx int

	mu       sync.Mutex // font faces are not safe for concurrent use
	title    font.Face
	subtitle font.Face
}

// NewExporter parses the bundled Go fonts. Empty title or headerPx <= 0
// select the defaults.
func NewExporter(title string, headerPx int) (*Exporter, error) {
	if title == "" {
		title = DefaultTitle
	}
	if headerPx <= 0 {
		headerPx = DefaultHeaderPx
	}
	tf, err := newFace(gobold.TTF, titleSize)
	if err != nil {
		return nil, fmt.Errorf("title font: %w", err)
	}
	sf, err := newFace(goregular.TTF, subtitleSize)
	if err != nil {
		return nil, fmt.Errorf("subtitle font: %w", err)
	}
	return &Exporter{Title: title, HeaderPx: headerPx, title: tf, subtitle: sf}, nil
}

func newFace(ttf []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

// Render produces the export for c. The only input besides c is at, used for
// the subtitle date and the filename timestamp.
func (x *Exporter) Render(c *Collage, at time.Time) (*Export, error) {
	if c == nil || c.Image == nil {
		return nil, fmt.Errorf("no collage to export")
	}
	cb := c.Image.Bounds()
	w, h := cb.Dx(), x.HeaderPx+cb.Dy()

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, image.Rect(0, 0, w, x.HeaderPx), image.NewUniform(HeaderBackground), image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, x.HeaderPx, w, h), c.Image, cb.Min, draw.Src)

	subtitle := fmt.Sprintf("%s - %s", c.LayoutName, at.Format(dateLayout))
	x.mu.Lock()
	drawCentered(out, x.title, textColor, x.Title, titleBaseline)
	drawCentered(out, x.subtitle, textColor, subtitle, subBaseline)
	x.mu.Unlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	e := &Export{Filename: Filename(c.LayoutName, at), PNG: buf.Bytes(), Width: w, Height: h}
	debug.Info("Export %s (%dx%d, %d bytes)", e.Filename, w, h, len(e.PNG))
	return e, nil
}

func drawCentered(dst draw.Image, face font.Face, c color.Color, s string, baseline int) {
	width := font.MeasureString(face, s).Round()
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P((dst.Bounds().Dx()-width)/2, baseline),
	}
	d.DrawString(s)
}
