// Package imaging re-encodes uploaded photos into a bounded JPEG before they are sent to a vision model.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MediaTypeJPEG    = "image/jpeg"
	MediaTypePNG     = "image/png"
	MediaTypeGIF     = "image/gif"
	MediaTypeWebP    = "image/webp"
	MediaTypeUnknown = "application/octet-stream"

	DefaultMaxSide = 1024
	DefaultQuality = 80
)

// Image is an encoded payload plus its detected media type.
type Image struct {
	Data      []byte
	MediaType string
}

type Normalizer struct {
	maxSide int
	quality int
}

func NewNormalizer(maxSide int, quality int) *Normalizer {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	return &Normalizer{maxSide: maxSide, quality: quality}
}

// Normalize flattens raw onto a white background, shrinks it to fit maxSide and encodes it as JPEG.
// It never fails: undecodable input comes back unchanged with a sniffed media type.
func (n *Normalizer) Normalize(raw []byte) Image {
	data, err := n.reencode(raw)
	if err != nil {
		slog.Default().With("component", "imaging.normalizer").Debug("image normalization skipped", "bytes", len(raw), "error", err)
		return Image{Data: raw, MediaType: DetectMediaType(raw)}
	}

	return Image{Data: data, MediaType: MediaTypeJPEG}
}

func (n *Normalizer) reencode(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}

	width, height := fitWithin(bounds.Dx(), bounds.Dy(), n.maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return out.Bytes(), nil
}

// fitWithin keeps the aspect ratio and only ever shrinks.
func fitWithin(width int, height int, maxSide int) (int, int) {
	longest := max(width, height)
	if longest <= maxSide {
		return width, height
	}

	scale := float64(maxSide) / float64(longest)
	scaledWidth := max(1, int(float64(width)*scale+0.5))
	scaledHeight := max(1, int(float64(height)*scale+0.5))

	return min(scaledWidth, maxSide), min(scaledHeight, maxSide)
}

// DetectMediaType reports one of the image media types vision endpoints accept, or
// application/octet-stream.
func DetectMediaType(data []byte) string {
	switch mediaType := http.DetectContentType(data); mediaType {
	case MediaTypeJPEG, MediaTypePNG, MediaTypeGIF, MediaTypeWebP:
		return mediaType
	default:
		return MediaTypeUnknown
	}
}

func DataURL(img Image) string {
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = DetectMediaType(img.Data)
	}

	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
