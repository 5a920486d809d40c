package converter

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	defaultImageMaxWidth  = 600
	defaultImageMaxHeight = 800
	defaultImageQuality   = 85
	coverImageQuality     = 90
	defaultImageSizeCap   = 256 * 1024
	qualityLadderStep     = 10
	minContentQuality     = 40
	maxDecodePixels       = 64 << 20
)

// ImagePolicy bounds the images that end up as resource records:
// content images are fitted into MaxWidth x MaxHeight, everything
// re-encodes as JPEG unless transparency forces PNG, and encoded
// sizes walk down a JPEG quality ladder toward SizeCap.
type ImagePolicy struct {
	MaxWidth     int
	MaxHeight    int
	Quality      int
	CoverQuality int
	SizeCap      int
}

// newImagePolicy derives a policy from the conversion options, filling
// unset fields with the Kindle-appropriate defaults.
func newImagePolicy(opts ConvertOptions) ImagePolicy {
	policy := ImagePolicy{
		MaxWidth:     opts.MaxImageWidth,
		MaxHeight:    defaultImageMaxHeight,
		Quality:      opts.JPEGQuality,
		CoverQuality: coverImageQuality,
		SizeCap:      opts.MaxImageSizeBytes,
	}
	if policy.MaxWidth <= 0 {
		policy.MaxWidth = defaultImageMaxWidth
	}
	if policy.Quality <= 0 {
		policy.Quality = defaultImageQuality
	}
	if policy.Quality > 100 {
		policy.Quality = 100
	}
	if policy.SizeCap <= 0 {
		policy.SizeCap = defaultImageSizeCap
	}
	return policy
}

// ProcessedImage is the outcome of applying the policy to one image.
// Note is non-empty when the input passed through unprocessed or the
// output still exceeds the size cap; Data is usable either way.
type ProcessedImage struct {
	Data   []byte
	Format string // "jpeg", "png" or "gif"
	Width  int
	Height int
	Note   string
}

// Process applies the policy to one image. The cover keeps its pixel
// dimensions and gets the higher quality floor; content images are
// fitted into the policy bounds.
func (p ImagePolicy) Process(path, mediaType string, data []byte, isCover bool) (ProcessedImage, error) {
	passthrough := ProcessedImage{Data: data, Format: declaredFormat(mediaType)}

	cfg, cfgFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		passthrough.Note = fmt.Sprintf("undecodable image kept as-is: %v", err)
		return passthrough, nil
	}
	passthrough.Width = cfg.Width
	passthrough.Height = cfg.Height
	if passthrough.Format == "" {
		passthrough.Format = cfgFormat
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxDecodePixels {
		passthrough.Note = fmt.Sprintf("image of %dx%d pixels kept as-is", cfg.Width, cfg.Height)
		return passthrough, nil
	}

	// Animated GIFs survive untouched; flattening them would drop
	// frames.
	if passthrough.Format == "gif" && isAnimatedGIF(data) {
		return passthrough, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		passthrough.Note = fmt.Sprintf("undecodable image kept as-is: %v", err)
		return passthrough, nil
	}

	if !isCover && exceedsBounds(img, p.MaxWidth, p.MaxHeight) {
		img = imaging.Fit(img, p.MaxWidth, p.MaxHeight, imaging.Lanczos)
	}

	out := ProcessedImage{
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}

	if passthrough.Format == "png" && hasTransparency(img) {
		encoded, err := pngEncode(img)
		if err != nil {
			return out, fmt.Errorf("png encode of %s: %w", path, err)
		}
		out.Data = encoded
		out.Format = "png"
		if len(encoded) > p.SizeCap {
			out.Note = fmt.Sprintf("png of %d bytes exceeds cap of %d", len(encoded), p.SizeCap)
		}
		return out, nil
	}

	encoded, quality, err := p.jpegWithinCap(img, isCover)
	if err != nil {
		return out, fmt.Errorf("jpeg encode of %s: %w", path, err)
	}
	out.Data = encoded
	out.Format = "jpeg"
	if len(encoded) > p.SizeCap {
		out.Note = fmt.Sprintf("jpeg of %d bytes exceeds cap of %d at quality %d", len(encoded), p.SizeCap, quality)
	}
	return out, nil
}

// jpegWithinCap encodes img, stepping the quality down until the
// output fits the size cap or the floor is reached. The cover floor is
// the cover quality itself.
func (p ImagePolicy) jpegWithinCap(img image.Image, isCover bool) ([]byte, int, error) {
	quality := p.Quality
	floor := minContentQuality
	if isCover {
		if quality < p.CoverQuality {
			quality = p.CoverQuality
		}
		floor = p.CoverQuality
	}

	for {
		encoded, err := jpegEncode(img, quality)
		if err != nil {
			return nil, 0, err
		}
		if len(encoded) <= p.SizeCap || quality-qualityLadderStep < floor {
			return encoded, quality, nil
		}
		quality -= qualityLadderStep
	}
}

// exceedsBounds reports whether img is larger than maxW x maxH in
// either dimension.
func exceedsBounds(img image.Image, maxW, maxH int) bool {
	bounds := img.Bounds()
	return bounds.Dx() > maxW || bounds.Dy() > maxH
}

// declaredFormat maps a manifest media type to an encoder format name.
func declaredFormat(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	}
	return ""
}

// isAnimatedGIF reports whether data is a GIF with more than one
// frame.
func isAnimatedGIF(data []byte) bool {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	return err == nil && len(g.Image) > 1
}

// hasTransparency reports whether any pixel is not fully opaque,
// using the decoded image's own opacity knowledge when available.
func hasTransparency(img image.Image) bool {
	if op, ok := img.(interface{ Opaque() bool }); ok {
		return !op.Opaque()
	}
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xFFFF {
				return true
			}
		}
	}
	return false
}

func jpegEncode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pngEncode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
