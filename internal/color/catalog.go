package color

import "sync"

// ColorEntry is one named colour of the fixed palette.
type ColorEntry struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// HSB returns the entry colour as hue, saturation and brightness.
func (e ColorEntry) HSB() HSB {
	rgb, err := ParseHex(e.Hex)
	if err != nil {
		return HSB{}
	}
	return rgb.HSB()
}

// SceneEntry is one named scene. Code is an opaque firmware payload.
type SceneEntry struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Palette is the fixed colour palette selectable by name or by stepping.
var Palette = []ColorEntry{
	{Name: "red", Hex: "#FF0000"},
	{Name: "maroon", Hex: "#800000"},
	{Name: "yellow", Hex: "#FFFF00"},
	{Name: "olive", Hex: "#808000"},
	{Name: "lime", Hex: "#00FF00"},
	{Name: "green", Hex: "#008000"},
	{Name: "aqua", Hex: "#00FFFF"},
	{Name: "teal", Hex: "#008080"},
	{Name: "blue", Hex: "#0000FF"},
	{Name: "navy", Hex: "#000080"},
	{Name: "fuchsia", Hex: "#FF00FF"},
	{Name: "purple", Hex: "#800080"},
}

// Scenes is the fixed scene catalogue.
var Scenes = []SceneEntry{
	{Name: "night", Code: "000e0d0000000000000000c803e8"},
	{Name: "read", Code: "010e0d0000000000000003e803e8"},
	{Name: "working", Code: "020e0d0000000000000003e803e8"},
	{Name: "leisure", Code: "030e0d0000000000000001f403e8"},
	{Name: "soft", Code: "04464602007803e803e800000000464602007803e8000a00000000"},
	{Name: "colorful", Code: "05464601000003e803e800000000464601007803e803e80000000046460100f003e803e800000000464601003d03e803e80000000046460100ae03e803e800000000464601011303e803e800000000"},
	{Name: "dazzling", Code: "06464601000003e803e800000000464601007803e803e80000000046460100f003e803e800000000"},
	{Name: "gorgeous", Code: "07464602000003e803e800000000464602007803e803e80000000046460200f003e803e800000000464602003d03e803e80000000046460200ae03e803e800000000464602011303e803e800000000"},
}

// Selection tokens that step a cursor instead of naming an entry.
const (
	TokenNext = "next"
	TokenPrev = "prev"
)

// Cursor tracks the current entry of a fixed collection. Selection is split
// in two: Peek resolves a token against the current position and Commit moves
// the cursor once the caller has applied the entry. Callers that must not
// lose steps serialize Peek and Commit themselves.
type Cursor[T any] struct {
	mu    sync.Mutex
	items []T
	name  func(T) string
	idx   int
}

// NewCursor returns a cursor over items positioned at the entry called
// initial, or at the first entry if there is none.
func NewCursor[T any](items []T, name func(T) string, initial string) *Cursor[T] {
	c := &Cursor[T]{items: items, name: name}
	if i := c.index(initial); i >= 0 {
		c.idx = i
	}
	return c
}

// NewColorCursor returns a palette cursor starting at "red".
func NewColorCursor() *Cursor[ColorEntry] {
	return NewCursor(Palette, func(e ColorEntry) string { return e.Name }, "red")
}

// NewSceneCursor returns a scene cursor starting at "night".
func NewSceneCursor() *Cursor[SceneEntry] {
	return NewCursor(Scenes, func(e SceneEntry) string { return e.Name }, "night")
}

// Current returns the entry the cursor points at.
func (c *Cursor[T]) Current() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[c.idx]
}

// Peek resolves token without moving the cursor. "next" and "prev" step
// circularly from the current entry. Any other token is matched by exact
// name; an unknown name steps forward as "next" does and reports
// matched=false so the caller can warn about the substitution. pos is the
// entry's index, to be handed to Commit.
func (c *Cursor[T]) Peek(token string) (entry T, pos int, matched bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	switch token {
	case TokenNext:
		pos = (c.idx + 1) % n
		return c.items[pos], pos, true
	case TokenPrev:
		pos = (c.idx - 1 + n) % n
		return c.items[pos], pos, true
	}
	if i := c.index(token); i >= 0 {
		return c.items[i], i, true
	}
	pos = (c.idx + 1) % n
	return c.items[pos], pos, false
}

// Commit moves the cursor to pos. Out of range positions are ignored.
func (c *Cursor[T]) Commit(pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos >= 0 && pos < len(c.items) {
		c.idx = pos
	}
}

func (c *Cursor[T]) index(name string) int {
	for i, it := range c.items {
		if c.name(it) == name {
			return i
		}
	}
	return -1
}
