package preview

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	// Registered decoders for Downscale and FromBytes.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	"sealedmsg/internal/domain"
)

const (
	// MaxBytes bounds the encoded derivative, before data URL encoding.
	MaxBytes            = 64 << 10
	DefaultMaxDimension = 160
)

// Derivative is a low fidelity image that is safe to disclose before the
// message unlocks. It can only be built from image bytes, never from an
// arbitrary payload.
type Derivative struct {
	data     []byte
	mimeType string
}

func (d Derivative) MimeType() string { return d.mimeType }
func (d Derivative) Len() int         { return len(d.data) }
func (d Derivative) Bytes() []byte    { return append([]byte(nil), d.data...) }

func (d Derivative) DataURL() string {
	return "data:" + d.mimeType + ";base64," + base64.StdEncoding.EncodeToString(d.data)
}

// Downscale decodes src and re-encodes it as a JPEG whose longest side is at
// most maxDim pixels, lowering quality until it fits MaxBytes.
func Downscale(src []byte, maxDim int) (Derivative, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return Derivative{}, fmt.Errorf("%w: preview source is not an image: %v", domain.ErrValidation, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Derivative{}, fmt.Errorf("%w: empty image", domain.ErrValidation)
	}
	if w > maxDim || h > maxDim {
		if w >= h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	for _, q := range []int{75, 60, 45, 30, 15} {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
			return Derivative{}, err
		}
		if buf.Len() <= MaxBytes {
			return Derivative{data: buf.Bytes(), mimeType: "image/jpeg"}, nil
		}
	}
	return Derivative{}, domain.ErrPreviewTooLarge
}

// FromBytes accepts an already small image as is.
func FromBytes(data []byte, mimeType string) (Derivative, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return Derivative{}, fmt.Errorf("%w: preview must be an image, got %q", domain.ErrValidation, mimeType)
	}
	if len(data) > MaxBytes {
		return Derivative{}, domain.ErrPreviewTooLarge
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return Derivative{}, fmt.Errorf("%w: preview is not a decodable image: %v", domain.ErrValidation, err)
	}
	return Derivative{data: append([]byte(nil), data...), mimeType: mimeType}, nil
}

// ParseDataURL splits a base64 data URL into its MIME type and bytes and
// enforces MaxBytes.
func ParseDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: not a data URL", domain.ErrValidation)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: malformed data URL", domain.ErrValidation)
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: data URL must be base64", domain.ErrValidation)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxBytes+3 {
		return "", nil, domain.ErrPreviewTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: data URL payload: %v", domain.ErrValidation, err)
	}
	if len(data) > MaxBytes {
		return "", nil, domain.ErrPreviewTooLarge
	}
	return mimeType, data, nil
}
