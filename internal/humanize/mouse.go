package humanize

import (
	"context"
	"math"
	"math/rand"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Point represents a 2D coordinate.
type Point struct {
	X float64
	Y float64
}

// Mouse provides humanized mouse movement for a page.
type Mouse struct {
	page   *rod.Page
	timing *Timing
	// last known cursor position, used as the start of the next path
	pos Point
}

// NewMouse creates a mouse helper for the given page.
func NewMouse(page *rod.Page, timing *Timing) *Mouse {
	if timing == nil {
		timing = NewTiming()
	}
	return &Mouse{page: page, timing: timing}
}

// ClickElement moves the cursor to the element along a Bezier curve and
// clicks it. The target point is offset randomly inside the element bounds
// so repeated clicks do not land on the exact same pixel.
func (m *Mouse) ClickElement(ctx context.Context, el *rod.Element) error {
	target, err := elementTarget(el)
	if err != nil {
		return err
	}

	if !SleepWithContext(ctx, m.timing.PreActionDelay()) {
		return ctx.Err()
	}

	if err := m.moveTo(ctx, target); err != nil {
		return err
	}

	if err := m.page.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	// Humans hold the button for a short beat.
	if !SleepWithContext(ctx, RandomDuration(40, 120)) {
		// Release before reporting cancellation so the page is not left
		// with a stuck button.
		_ = m.page.Mouse.Up(proto.InputMouseButtonLeft, 1)
		return ctx.Err()
	}
	return m.page.Mouse.Up(proto.InputMouseButtonLeft, 1)
}

// moveTo moves the cursor from its current position to target along a
// quadratic Bezier curve with a randomized control point.
func (m *Mouse) moveTo(ctx context.Context, target Point) error {
	start := m.pos
	path := bezierPath(start, target, pathSteps(start, target))

	for _, p := range path {
		if err := m.page.Mouse.MoveTo(proto.Point{X: p.X, Y: p.Y}); err != nil {
			return err
		}
		if !SleepWithContext(ctx, RandomDuration(4, 14)) {
			return ctx.Err()
		}
	}
	m.pos = target
	return nil
}

// elementTarget computes a click point inside the element, offset toward the
// center with random scatter.
func elementTarget(el *rod.Element) (Point, error) {
	shape, err := el.Shape()
	if err != nil {
		return Point{}, ErrElementNotVisible
	}
	box := shape.Box()
	if box == nil || box.Width <= 0 || box.Height <= 0 {
		return Point{}, ErrElementNotVisible
	}

	// Scatter within the middle 60% of the box.
	offsetX := (rand.Float64() - 0.5) * box.Width * 0.6
	offsetY := (rand.Float64() - 0.5) * box.Height * 0.6

	return Point{
		X: box.X + box.Width/2 + offsetX,
		Y: box.Y + box.Height/2 + offsetY,
	}, nil
}

// pathSteps scales the number of movement steps to the distance traveled so
// short hops stay snappy and long sweeps stay smooth.
func pathSteps(from, to Point) int {
	dist := math.Hypot(to.X-from.X, to.Y-from.Y)
	steps := int(dist / 15)
	if steps < 5 {
		steps = 5
	}
	if steps > 40 {
		steps = 40
	}
	return steps
}

// bezierPath generates points along a quadratic Bezier curve from start to
// end. The control point is displaced perpendicular to the straight line to
// produce a natural arc.
func bezierPath(start, end Point, steps int) []Point {
	midX := (start.X + end.X) / 2
	midY := (start.Y + end.Y) / 2

	dist := math.Hypot(end.X-start.X, end.Y-start.Y)
	// Perpendicular displacement up to 20% of the travel distance.
	offset := (rand.Float64() - 0.5) * dist * 0.4

	angle := math.Atan2(end.Y-start.Y, end.X-start.X) + math.Pi/2
	ctrl := Point{
		X: midX + math.Cos(angle)*offset,
		Y: midY + math.Sin(angle)*offset,
	}

	points := make([]Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		inv := 1 - t
		points = append(points, Point{
			X: inv*inv*start.X + 2*inv*t*ctrl.X + t*t*end.X,
			Y: inv*inv*start.Y + 2*inv*t*ctrl.Y + t*t*end.Y,
		})
	}
	return points
}
