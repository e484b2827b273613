package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func TestNormalizeDownscalesLargeImages(t *testing.T) {
	raw := encodePNG(t, 2048, 1024, color.RGBA{R: 200, G: 10, B: 10, A: 255})

	img := NewNormalizer(1024, 80).Normalize(raw)
	if img.MediaType != MediaTypeJPEG {
		t.Fatalf("media type = %q, want %q", img.MediaType, MediaTypeJPEG)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}
	if got := decoded.Bounds(); got.Dx() != 1024 || got.Dy() != 512 {
		t.Fatalf("normalized size = %dx%d, want 1024x512", got.Dx(), got.Dy())
	}
}

func TestNormalizeKeepsSmallImageSize(t *testing.T) {
	raw := encodePNG(t, 300, 200, color.RGBA{G: 255, A: 255})

	img := NewNormalizer(1024, 80).Normalize(raw)
	decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}
	if got := decoded.Bounds(); got.Dx() != 300 || got.Dy() != 200 {
		t.Fatalf("normalized size = %dx%d, want 300x200", got.Dx(), got.Dy())
	}
}

func TestNormalizeFlattensTransparencyOnWhite(t *testing.T) {
	raw := encodePNG(t, 16, 16, color.RGBA{})

	img := NewNormalizer(1024, 90).Normalize(raw)
	decoded, err := jpeg.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("decode normalized image: %v", err)
	}

	r, g, b, _ := decoded.At(8, 8).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("pixel = (%d,%d,%d), want near white", r>>8, g>>8, b>>8)
	}
}

func TestNormalizeReturnsOriginalOnDecodeFailure(t *testing.T) {
	raw := []byte(strings.Repeat("not an image ", 100))

	img := NewNormalizer(0, 0).Normalize(raw)
	if !bytes.Equal(img.Data, raw) {
		t.Fatal("expected original bytes to be returned")
	}
	if img.MediaType != MediaTypeUnknown {
		t.Fatalf("media type = %q, want %q", img.MediaType, MediaTypeUnknown)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	raw := encodePNG(t, 1500, 1500, color.RGBA{B: 255, A: 255})
	normalizer := NewNormalizer(1024, 80)

	if !bytes.Equal(normalizer.Normalize(raw).Data, normalizer.Normalize(raw).Data) {
		t.Fatal("expected identical output for identical input")
	}
}

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "jpeg", data: []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10}, want: MediaTypeJPEG},
		{name: "png", data: []byte("\x89PNG\r\n\x1a\n\x00\x00"), want: MediaTypePNG},
		{name: "gif", data: []byte("GIF89a......"), want: MediaTypeGIF},
		{name: "webp", data: []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), want: MediaTypeWebP},
		{name: "text", data: []byte("hello"), want: MediaTypeUnknown},
		{name: "empty", data: nil, want: MediaTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMediaType(tt.data); got != tt.want {
				t.Fatalf("DetectMediaType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDataURL(t *testing.T) {
	got := DataURL(Image{Data: []byte{1, 2, 3}, MediaType: MediaTypeJPEG})
	if got != "data:image/jpeg;base64,AQID" {
		t.Fatalf("DataURL = %q", got)
	}
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{w: 800, h: 600, max: 1024, wantW: 800, wantH: 600},
		{w: 4000, h: 3000, max: 1024, wantW: 1024, wantH: 768},
		{w: 1000, h: 5000, max: 1024, wantW: 205, wantH: 1024},
		{w: 5000, h: 1, max: 1024, wantW: 1024, wantH: 1},
	}

	for _, tt := range tests {
		gotW, gotH := fitWithin(tt.w, tt.h, tt.max)
		if gotW != tt.wantW || gotH != tt.wantH {
			t.Fatalf("fitWithin(%d,%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, tt.max, gotW, gotH, tt.wantW, tt.wantH)
		}
	}
}

func encodePNG(t *testing.T, width int, height int, fill color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	return buf.Bytes()
}
