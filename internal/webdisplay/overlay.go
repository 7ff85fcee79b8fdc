package webdisplay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colorLocalizing = color.RGBA{R: 0, G: 230, B: 64, A: 255}
	colorTracking   = color.RGBA{R: 255, G: 160, B: 0, A: 255}
	colorLabelBG    = color.RGBA{A: 200}
)

// toRGBA copies packed RGB8 or RGBA8 pixels into an image
func toRGBA(pixels []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := width * height

	switch len(pixels) {
	case n * 4:
		copy(img.Pix, pixels)
	case n * 3:
		for i, j := 0, 0; i < n*3; i, j = i+3, j+4 {
			img.Pix[j] = pixels[i]
			img.Pix[j+1] = pixels[i+1]
			img.Pix[j+2] = pixels[i+2]
			img.Pix[j+3] = 255
		}
	default:
		return nil, fmt.Errorf("frame has %d bytes, want %d (RGB) or %d (RGBA)", len(pixels), n*3, n*4)
	}
	return img, nil
}

// renderJPEG draws regions and a caption over the frame and encodes it
func renderJPEG(pixels []byte, width, height int, mode string, regions []Region, caption string, quality int) ([]byte, error) {
	img, err := toRGBA(pixels, width, height)
	if err != nil {
		return nil, err
	}

	boxColor := colorLocalizing
	if mode == "tracking" {
		boxColor = colorTracking
	}

	for _, r := range regions {
		drawRect(img, image.Rect(r.BBox.X, r.BBox.Y, r.BBox.X+r.BBox.W, r.BBox.Y+r.BBox.H), boxColor, 2)

		label := fmt.Sprintf("%s %.2f", r.ClassName, r.Confidence)
		labelY := r.BBox.Y - 4
		if labelY < 14 {
			labelY = r.BBox.Y + r.BBox.H + 14
		}
		drawLabel(img, r.BBox.X, labelY, label, boxColor)
	}

	if caption != "" {
		drawLabel(img, 6, 16, caption, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawRect outlines r with the given thickness, clipped to the image
func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	r = r.Canon()
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text with its baseline at (x, y) over a dark background
func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}

	width := d.MeasureString(text).Ceil()
	bg := image.Rect(x-2, y-face.Ascent-1, x+width+2, y+face.Descent+1)
	draw.Draw(img, bg.Intersect(img.Bounds()), image.NewUniform(colorLabelBG), image.Point{}, draw.Over)

	d.DrawString(text)
}

// blankJPEG is served while no frame has been published yet
func blankJPEG(width, height, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 24, G: 24, B: 24, A: 255}), image.Point{}, draw.Src)
	drawLabel(img, 10, height/2, "waiting for camera...", color.RGBA{R: 200, G: 200, B: 200, A: 255})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
