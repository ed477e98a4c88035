// Package screen holds the geometry types shared by capture, bounds
// resolution and the session record.
package screen

// Rect is a rectangle in desktop coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether the point (x, y) lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Display is one physical display in the desktop layout.
type Display struct {
	ID      int  `json:"id"`
	Bounds  Rect `json:"bounds"`
	Primary bool `json:"primary,omitempty"`
}

// Window identifies a desktop window. Identity is the stable token the OS
// resolver reports for the window (window id, or app + window id); two
// Window values with equal Identity are the same window.
type Window struct {
	Identity string `json:"identity"`
	Title    string `json:"title,omitempty"`
}

// DisplayFor returns the display containing (x, y). When no display
// contains the point it falls back to the primary display, then to the
// first one. ok is false only when displays is empty.
func DisplayFor(displays []Display, x, y int) (Display, bool) {
	if len(displays) == 0 {
		return Display{}, false
	}
	for _, d := range displays {
		if d.Bounds.Contains(x, y) {
			return d, true
		}
	}
	for _, d := range displays {
		if d.Primary {
			return d, true
		}
	}
	return displays[0], true
}
