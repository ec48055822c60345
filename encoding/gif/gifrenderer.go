// Package gif renders finished games as animated GIFs, one frame per ply.
// Purely a debugging/demo surface: training never looks at these.
package gif

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"strings"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"

	"github.com/temposearch/tempo/game"
	"github.com/temposearch/tempo/storage"
)

var regular *truetype.Font

const (
	dpi             = 144.0
	fontsize        = 12.0
	lineheight      = 1.2
	dummyLongString = `Game 100000, ply 512, result 0.5`
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

var globPalette = color.Palette{
	color.Gray{0},
	color.Gray{253},
}

// Encoder accumulates frames for one or more games and writes a single
// animated GIF on Flush.
type Encoder struct {
	H, W int
	font.Drawer

	out *gif.GIF
	io.Writer
	face font.Face

	maxH, maxW  int
	padH, padW  int
	initialized bool
}

func NewEncoder(h, w int, out io.Writer) *Encoder {
	return &Encoder{
		H:    -1,
		W:    -1,
		maxH: h,
		maxW: w,
		padH: 10,
		padW: 10,

		Drawer: font.Drawer{
			Src: image.Black,
		},
		Writer: out,
		out:    &gif.GIF{LoopCount: -1},
	}
}

// EncodeFrame draws the position with a caption line underneath. The final
// frame of a game should pass final=true so the animation lingers on it.
func (enc *Encoder) EncodeFrame(position *game.Position, caption string, final bool) error {
	repr := position.Raw().Board().Draw()

	if !enc.initialized {
		enc.face = truetype.NewFace(regular, &truetype.Options{
			Size:    fontsize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
		enc.Drawer.Src = image.Black
		enc.Drawer.Face = enc.face

		splits := strings.Split(repr, "\n")
		oneline := splits[0]
		maxW := maxInt(font.MeasureString(enc.Face, oneline).Ceil(), font.MeasureString(enc.Face, dummyLongString).Ceil())
		dy := int(math.Ceil(fontsize * lineheight * dpi / 72))
		w := maxW + 2*enc.padW
		h := (len(splits)+2)*dy + 2*enc.padH

		w = minInt(w, enc.maxW)
		h = minInt(h, enc.maxH)
		if w == enc.maxW {
			enc.padW = 0
		}
		if h == enc.maxH {
			enc.padH = 0
		}
		enc.H = h
		enc.W = w
		enc.initialized = true
	}

	im := image.NewPaletted(image.Rect(0, 0, enc.W, enc.H), globPalette)
	draw.Draw(im, im.Bounds(), image.White, image.Point{}, draw.Src)
	dy := int(math.Ceil(fontsize * lineheight * dpi / 72))

	enc.Dst = im
	y := enc.padH + dy
	for _, s := range strings.Split(repr, "\n") {
		enc.Dot = fixed.P(enc.padW, y)
		enc.DrawString(s)
		y += dy
	}
	enc.Dot = fixed.P(enc.padW, y)
	enc.DrawString(caption)

	delay := 30
	if final {
		delay = 300
	}
	enc.out.Image = append(enc.out.Image, im)
	enc.out.Delay = append(enc.out.Delay, delay)
	return nil
}

// EncodeGame replays a stored game and emits one frame per position.
func (enc *Encoder) EncodeGame(gameNumber int, stored storage.StoredGame) error {
	position := game.NewPosition()
	for ply, move := range stored.Moves {
		caption := fmt.Sprintf("Game %d, ply %d", gameNumber, ply)
		if err := enc.EncodeFrame(position, caption, false); err != nil {
			return err
		}
		if err := position.Apply(move); err != nil {
			return err
		}
	}
	caption := fmt.Sprintf("Game %d, ply %d, result %.1f", gameNumber, len(stored.Moves), stored.Result)
	return enc.EncodeFrame(position, caption, true)
}

// Flush writes the accumulated animation.
func (enc *Encoder) Flush() error { return gif.EncodeAll(enc.Writer, enc.out) }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
