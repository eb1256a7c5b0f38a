package overlay

import (
	"image/color"
	"image/png"
	"io"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// fillAlpha is the opacity of change polygons on the map.
const fillAlpha = 0xd9

// MapRenderer draws the change features of a result as a static map.
// Coordinates are projected as-is (equirectangular for lon/lat data), with
// y pointing up. One canvas unit is one output pixel.
type MapRenderer struct {
	Result      *AnalysisResult
	WidthPx     float64
	Padding     float64 // fraction of the data extent added on each side
	StrokeWidth float64
	// ChangedOnly hides unchanged records.
	ChangedOnly bool
}

// NewMapRenderer returns a renderer with the settings from cfg.
func NewMapRenderer(r *AnalysisResult, cfg RenderConfig) *MapRenderer {
	width := float64(cfg.WidthPx)
	if width <= 0 {
		width = 1200
	}
	return &MapRenderer{
		Result:      r,
		WidthPx:     width,
		Padding:     cfg.Padding,
		StrokeWidth: 0.5,
	}
}

type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// viewport maps data coordinates to canvas coordinates.
type viewport struct {
	minX, minY    float64
	scale         float64
	padX, padY    float64
	width, height float64
}

func (v viewport) project(p orb.Point) (float64, float64) {
	return (p[0]-v.minX)*v.scale + v.padX, (p[1]-v.minY)*v.scale + v.padY
}

func (r *MapRenderer) viewport() viewport {
	var b orb.Bound
	first := true
	for _, rec := range r.records() {
		if len(rec.Geometry) == 0 {
			continue
		}
		if first {
			b = rec.Geometry.Bound()
			first = false
			continue
		}
		b = b.Union(rec.Geometry.Bound())
	}

	dx, dy := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if first || dx <= 0 || dy <= 0 {
		return viewport{scale: 1, width: r.WidthPx, height: r.WidthPx}
	}

	inner := r.WidthPx * (1 - 2*r.Padding)
	scale := inner / dx
	pad := r.WidthPx * r.Padding
	return viewport{
		minX:   b.Min[0],
		minY:   b.Min[1],
		scale:  scale,
		padX:   pad,
		padY:   pad,
		width:  r.WidthPx,
		height: math.Ceil(dy*scale + 2*pad),
	}
}

func (r *MapRenderer) records() []ChangeRecord {
	if r.Result == nil {
		return nil
	}
	if !r.ChangedOnly {
		return r.Result.ChangeFeatures
	}
	var out []ChangeRecord
	for _, rec := range r.Result.ChangeFeatures {
		if rec.Status == StatusChanged {
			out = append(out, rec)
		}
	}
	return out
}

// RenderToSVG writes the map as SVG.
func (r *MapRenderer) RenderToSVG(w io.Writer) error {
	vp := r.viewport()
	svgRenderer := svg.New(w, vp.width, vp.height, nil)
	r.renderToCanvas(svgRenderer, vp)
	if err := svgRenderer.Close(); err != nil {
		return eris.Wrap(err, "render: close svg")
	}
	return nil
}

// RenderToPNG writes the map as PNG, one pixel per canvas unit.
func (r *MapRenderer) RenderToPNG(w io.Writer) error {
	vp := r.viewport()
	rast := rasterizer.New(vp.width, vp.height, canvas.DPMM(1), canvas.DefaultColorSpace)
	r.renderToCanvas(rast, vp)
	if err := png.Encode(w, rast); err != nil {
		return eris.Wrap(err, "render: encode png")
	}
	return nil
}

func (r *MapRenderer) renderToCanvas(renderer canvasRenderer, vp viewport) {
	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	bg.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(vp.width, vp.height), bg, canvas.Identity)

	for _, rec := range r.records() {
		style := canvas.DefaultStyle
		style.FillRule = canvas.EvenOdd
		style.Fill = canvas.Paint{Color: hexToRGBA(r.Result.RecordColor(rec), fillAlpha)}
		style.Stroke = canvas.Paint{Color: color.RGBA{0x33, 0x33, 0x33, 0xff}}
		style.StrokeWidth = r.StrokeWidth

		for _, poly := range rec.Geometry {
			path := polygonPath(poly, vp)
			if path == nil {
				continue
			}
			renderer.RenderPath(path, style, canvas.Identity)
		}
	}
}

// polygonPath traces every ring of poly into one path so holes cut out
// under the even-odd rule.
func polygonPath(poly orb.Polygon, vp viewport) *canvas.Path {
	p := &canvas.Path{}
	empty := true
	for _, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		for i, pt := range ring {
			x, y := vp.project(pt)
			if i == 0 {
				p.MoveTo(x, y)
			} else {
				p.LineTo(x, y)
			}
		}
		p.Close()
		empty = false
	}
	if empty {
		return nil
	}
	return p
}

// hexToRGBA parses a #rrggbb color and premultiplies it with alpha.
func hexToRGBA(hex string, alpha uint8) color.RGBA {
	c, err := colorful.Hex(hex)
	if err != nil {
		c, _ = colorful.Hex(FallbackValueColor)
	}
	r, g, b := c.RGB255()
	return nrgbaToRGBA(color.NRGBA{R: r, G: g, B: b, A: alpha})
}

// nrgbaToRGBA premultiplies alpha; canvas expects premultiplied colors.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}
