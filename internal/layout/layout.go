// Package layout holds the static table of collage layouts.
//
// Layouts are immutable once the registry is built; selecting a different
// layout resets the capture session instead of mutating anything here.
package layout

import (
	"fmt"
	"image"

	"github.com/cjeanneret/photobox/internal/config"
)

// CollageSize is the side of the square collage canvas, in pixels.
const CollageSize = 800

// Placement is a destination rectangle in collage coordinates.
type Placement struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect returns the placement as an image.Rectangle.
func (p Placement) Rect() image.Rectangle {
	return image.Rect(p.X, p.Y, p.X+p.W, p.Y+p.H)
}

// Layout describes one selectable collage arrangement.
type Layout struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	MaxShots   int         `json:"max_photos"`
	Placements []Placement `json:"placements"`
	Overlay    string      `json:"template"` // asset reference drawn full-bleed over the collage
}

func (l Layout) clone() Layout {
	l.Placements = append([]Placement(nil), l.Placements...)
	return l
}

// Validate checks the layout invariants: a positive shot count, one placement
// per shot, and every placement inside the collage canvas.
func (l Layout) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("layout id is required")
	}
	if l.MaxShots <= 0 {
		return fmt.Errorf("layout %s: max photos must be > 0, got %d", l.ID, l.MaxShots)
	}
	if len(l.Placements) != l.MaxShots {
		return fmt.Errorf("layout %s: %d placements for %d photos", l.ID, len(l.Placements), l.MaxShots)
	}
	canvas := image.Rect(0, 0, CollageSize, CollageSize)
	for i, p := range l.Placements {
		if p.W <= 0 || p.H <= 0 {
			return fmt.Errorf("layout %s: placement %d has empty size %dx%d", l.ID, i, p.W, p.H)
		}
		if !p.Rect().In(canvas) {
			return fmt.Errorf("layout %s: placement %d %v outside %dx%d canvas", l.ID, i, p.Rect(), CollageSize, CollageSize)
		}
	}
	return nil
}

// Builtin returns the reference layouts: one large single shot and four
// quadrant shots.
func Builtin() []Layout {
	return []Layout{
		{
			ID:       "L_1_SINGLE",
			Name:     "1 Foto - Polaroid Besar",
			MaxShots: 1,
			Overlay:  "builtin:polaroid",
			Placements: []Placement{
				{X: 110, Y: 110, W: 580, H: 440},
			},
		},
		{
			ID:       "L_4_SQUARE",
			Name:     "4 Foto - Polaroid Modern",
			MaxShots: 4,
			Overlay:  "builtin:polaroid",
			Placements: []Placement{
				{X: 35, Y: 35, W: 330, H: 280},
				{X: 435, Y: 35, W: 330, H: 280},
				{X: 35, Y: 435, W: 330, H: 280},
				{X: 435, Y: 435, W: 330, H: 280},
			},
		},
	}
}

// Registry maps layout ids to layouts. It is read-only after construction.
type Registry struct {
	order []string
	byID  map[string]Layout
}

// NewRegistry validates every layout and indexes it by id.
func NewRegistry(layouts ...Layout) (*Registry, error) {
	if len(layouts) == 0 {
		return nil, fmt.Errorf("at least one layout is required")
	}
	r := &Registry{byID: make(map[string]Layout, len(layouts))}
	for _, l := range layouts {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[l.ID]; dup {
			return nil, fmt.Errorf("duplicate layout id %s", l.ID)
		}
		r.byID[l.ID] = l.clone()
		r.order = append(r.order, l.ID)
	}
	return r, nil
}

// FromConfig builds the registry from configured layouts, falling back to
// the built-in table when none are configured.
func FromConfig(cfgs []config.LayoutConfig) (*Registry, error) {
	if len(cfgs) == 0 {
		return NewRegistry(Builtin()...)
	}
	layouts := make([]Layout, 0, len(cfgs))
	for _, c := range cfgs {
		l := Layout{
			ID:       c.ID,
			Name:     c.Name,
			MaxShots: c.MaxPhotos,
			Overlay:  c.Template,
		}
		for _, p := range c.Placements {
			l.Placements = append(l.Placements, Placement{X: p.X, Y: p.Y, W: p.W, H: p.H})
		}
		layouts = append(layouts, l)
	}
	return NewRegistry(layouts...)
}

// Get returns a copy of the layout registered under id.
func (r *Registry) Get(id string) (Layout, bool) {
	l, ok := r.byID[id]
	if !ok {
		return Layout{}, false
	}
	return l.clone(), true
}

// List returns all layouts in definition order.
func (r *Registry) List() []Layout {
	out := make([]Layout, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].clone())
	}
	return out
}

// Len returns the number of registered layouts.
func (r *Registry) Len() int { return len(r.order) }
