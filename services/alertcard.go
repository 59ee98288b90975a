/*
# Module: services/alertcard.go
Renders a donation alert as a PNG card with freetype.

## Linked Modules
- [types/donation](../types/donation.go) - DonationItem

## Tags
services, image, rendering

## Exports
RenderAlertCard, AlertCardWidth, AlertCardHeight

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "services/alertcard.go" ;
    code:description "Renders a donation alert as a PNG card with freetype" ;
    code:linksTo [
        code:name "types/donation" ;
        code:path "../types/donation.go" ;
        code:relationship "DonationItem"
    ] ;
    code:exports :RenderAlertCard, :AlertCardWidth, :AlertCardHeight ;
    code:tags "services", "image", "rendering" .
<!-- End LinkedDoc RDF -->
*/
package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"donation-alerts/types"
)

const (
	AlertCardWidth  = 800
	AlertCardHeight = 300
)

var (
	fontsOnce   sync.Once
	regularFont *truetype.Font
	boldFont    *truetype.Font
	fontsErr    error
)

func loadFonts() error {
	fontsOnce.Do(func() {
		regularFont, fontsErr = freetype.ParseFont(goregular.TTF)
		if fontsErr != nil {
			return
		}
		boldFont, fontsErr = freetype.ParseFont(gobold.TTF)
	})
	return fontsErr
}

// RenderAlertCard draws the display name, amount and filtered message
func RenderAlertCard(item types.DonationItem) ([]byte, error) {
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, AlertCardWidth, AlertCardHeight))
	drawGradientBackground(img)

	header := fmt.Sprintf("%s donated %s", item.Name, item.Amount.Display())
	if item.Currency != "" {
		header += " " + item.Currency
	}
	currentY := drawTextBox(img, boldFont, header, 30, 20, AlertCardWidth-60, 80, 30, color.RGBA{255, 215, 90, 255})

	if item.Message != "" {
		drawTextBox(img, regularFont, item.Message, 30, currentY, AlertCardWidth-60, AlertCardHeight-currentY-30, 20, color.RGBA{255, 255, 255, 255})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode card: %w", err)
	}
	return buf.Bytes(), nil
}

// drawGradientBackground fills the image with a vertical gradient
func drawGradientBackground(img *image.RGBA) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		ratio := float64(y) / float64(bounds.Max.Y)
		c := color.RGBA{uint8(40 + ratio*30), uint8(20 + ratio*20), uint8(70 + ratio*60), 255}
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// wrapLines breaks text into lines no wider than maxWidth
func wrapLines(drawer *font.Drawer, text string, maxWidth int) []string {
	var lines []string
	currentLine := ""
	for _, word := range strings.Fields(text) {
		testLine := currentLine
		if testLine != "" {
			testLine += " "
		}
		testLine += word

		if drawer.MeasureString(testLine).Ceil() > maxWidth && currentLine != "" {
			lines = append(lines, currentLine)
			currentLine = word
		} else {
			currentLine = testLine
		}
	}
	if currentLine != "" {
		lines = append(lines, currentLine)
	}
	return lines
}

// drawTextBox draws wrapped text inside a box and returns the y below it
func drawTextBox(img *image.RGBA, f *truetype.Font, text string, x, y, maxWidth, maxHeight int, size float64, textColor color.RGBA) int {
	face := truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	defer face.Close()

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
	}

	lineHeight := int(size * 1.3)
	currentY := y + int(size)
	for i, line := range wrapLines(drawer, text, maxWidth) {
		if (i+1)*lineHeight > maxHeight {
			break
		}
		drawer.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(currentY)}
		drawer.DrawString(line)
		currentY += lineHeight
	}
	return currentY + 10
}
