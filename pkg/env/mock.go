package env

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

const (
	defaultFrameHeight     = 96
	defaultFrameWidth      = 96
	defaultFrameBufferSize = 400
	defaultArmLimit        = 1.0

	initialArmPos = -0.6
	frameMarginPx = 8
)

// MockOptions configures the mock environment. Zero values pick the defaults.
type MockOptions struct {
	ControlHz       int
	ArmLimit        float64
	FrameHeight     int
	FrameWidth      int
	FrameBufferSize int
}

// Mock is a deterministic line-crossing environment: a 1-D arm moves along a
// horizontal axis, rendered as a green marker against a black background with
// a white vertical center line as the goal boundary.
type Mock struct {
	controlHz   int
	dt          float64
	armLimit    float64
	frameHeight int
	frameWidth  int
	bufferSize  int

	armPos     float64
	simTime    float64
	lastAction Action
	frames     []*image.RGBA
}

var _ Env = &Mock{}

// NewMock creates a mock environment. ControlHz must be positive; everything
// else defaults when unset.
func NewMock(opts MockOptions) *Mock {
	if opts.ControlHz <= 0 {
		opts.ControlHz = 50
	}
	if opts.ArmLimit <= 0 {
		opts.ArmLimit = defaultArmLimit
	}
	if opts.FrameHeight <= 0 {
		opts.FrameHeight = defaultFrameHeight
	}
	if opts.FrameWidth <= 0 {
		opts.FrameWidth = defaultFrameWidth
	}
	if opts.FrameBufferSize <= 0 {
		opts.FrameBufferSize = defaultFrameBufferSize
	}

	return &Mock{
		controlHz:   opts.ControlHz,
		dt:          1.0 / float64(opts.ControlHz),
		armLimit:    opts.ArmLimit,
		frameHeight: opts.FrameHeight,
		frameWidth:  opts.FrameWidth,
		bufferSize:  opts.FrameBufferSize,
		armPos:      initialArmPos,
	}
}

func (m *Mock) Reset() *Observation {
	m.armPos = initialArmPos
	m.simTime = 0.0
	m.lastAction = Action{}
	m.frames = m.frames[:0]
	for range 3 {
		m.pushFrame(m.renderFrame())
	}
	return m.Observe()
}

func (m *Mock) Observe() *Observation {
	frame := m.renderFrame()
	m.pushFrame(frame)
	return &Observation{
		Frame:      frame,
		ArmPos:     m.armPos,
		TimeS:      m.simTime,
		LastAction: m.lastAction,
	}
}

func (m *Mock) Step(action Action) *Observation {
	// The low-level controller applies the commanded rate as-is; position is
	// integrated over one control period and clamped to the arm limit.
	m.lastAction = Action{DX: action.DX}
	m.armPos += action.DX * m.dt
	m.armPos = math.Max(-m.armLimit, math.Min(m.armLimit, m.armPos))
	m.simTime += m.dt
	return m.Observe()
}

func (m *Mock) RecentFrames(n int) []*image.RGBA {
	if n <= 0 {
		return nil
	}
	if n > len(m.frames) {
		n = len(m.frames)
	}

	out := make([]*image.RGBA, 0, n)
	for _, frame := range m.frames[len(m.frames)-n:] {
		out = append(out, cloneFrame(frame))
	}
	return out
}

func (m *Mock) SafetyCheck() bool {
	return math.Abs(m.armPos) <= m.armLimit
}

func (m *Mock) Close() {
	m.frames = nil
}

func (m *Mock) pushFrame(frame *image.RGBA) {
	m.frames = append(m.frames, frame)
	if len(m.frames) > m.bufferSize {
		m.frames = m.frames[len(m.frames)-m.bufferSize:]
	}
}

// armX maps the arm position onto a pixel column, keeping a margin at both
// edges so the marker stays fully visible.
func (m *Mock) armX() int {
	xMin := frameMarginPx
	xMax := m.frameWidth - frameMarginPx - 1
	norm := (m.armPos + m.armLimit) / (2.0 * m.armLimit)
	return int(math.Round(float64(xMin) + norm*float64(xMax-xMin)))
}

func (m *Mock) renderFrame() *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, m.frameWidth, m.frameHeight))
	background := color.RGBA{R: 18, G: 18, B: 18, A: 255}
	draw.Draw(frame, frame.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	// 2px white goal line down the center.
	lineX := m.frameWidth / 2
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	draw.Draw(frame, image.Rect(lineX-1, 0, lineX+1, m.frameHeight), &image.Uniform{C: white}, image.Point{}, draw.Src)

	// Green arm marker, 7px wide, 13px tall, centered vertically.
	x := m.armX()
	yMid := m.frameHeight / 2
	green := color.RGBA{R: 30, G: 220, B: 30, A: 255}
	marker := image.Rect(max(0, x-3), max(0, yMid-6), min(m.frameWidth, x+4), min(m.frameHeight, yMid+7))
	draw.Draw(frame, marker, &image.Uniform{C: green}, image.Point{}, draw.Src)

	return frame
}

func cloneFrame(frame *image.RGBA) *image.RGBA {
	out := image.NewRGBA(frame.Bounds())
	copy(out.Pix, frame.Pix)
	return out
}
