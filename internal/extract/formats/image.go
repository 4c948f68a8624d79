package formats

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"filesift/internal/errs"
	"filesift/internal/extract"
)

// RegisterImages registers raster images.
func RegisterImages(r *extract.Registry) {
	r.Register(NewImage, ".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp", ".webp", ".heic", ".heif")
}

// Image reports format, pixel mode and dimensions of a raster image.
type Image struct {
	extract.Base
}

// NewImage builds an image extractor.
func NewImage(path string, openFile bool) (extract.Extractor, error) {
	x := &Image{}
	err := x.Init(path, openFile, x.read)
	return x, err
}

func (x *Image) read() (extract.Metadata, error) {
	data, err := x.ReadAll()
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
	}

	meta := extract.Metadata{
		"original_format": formatName(format),
		"mode":            colorMode(cfg.ColorModel),
		"width":           cfg.Width,
		"height":          cfg.Height,
	}

	if format == "gif" {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, errs.Wrap(errs.FileCorruption, x.Path(), err)
		}
		meta["frames"] = len(g.Image)
		meta["animated"] = len(g.Image) > 1
	}

	if format == "jpeg" || format == "tiff" {
		if tags := readExif(data); tags != nil {
			meta["exif"] = tags
		}
	}
	return meta, nil
}

func formatName(format string) string {
	switch format {
	case "heic", "heif", "avif":
		return "HEIF"
	}
	return strings.ToUpper(format)
}

// colorMode names the pixel layout using the conventional short codes.
func colorMode(m color.Model) string {
	switch m {
	case color.GrayModel:
		return "L"
	case color.Gray16Model:
		return "I;16"
	case color.CMYKModel:
		return "CMYK"
	case color.YCbCrModel, color.NYCbCrAModel:
		return "RGB"
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return "RGBA"
	case color.AlphaModel, color.Alpha16Model:
		return "A"
	}
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	return "RGB"
}

func readExif(data []byte) map[string]string {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	tags := map[string]string{}
	for name, field := range map[string]exif.FieldName{"make": exif.Make, "model": exif.Model, "software": exif.Software} {
		if tag, err := x.Get(field); err == nil {
			if s, err := tag.StringVal(); err == nil {
				tags[name] = strings.TrimSpace(s)
			}
		}
	}
	if t, err := x.DateTime(); err == nil {
		tags["datetime"] = t.Format("2006-01-02 15:04:05")
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// Save re-encodes the image into the format implied by the destination
// extension.
func (x *Image) Save(outputPath string) error {
	target := x.Target(outputPath)
	data, err := x.ReadAll()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(target)) {
	case ".gif":
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			img, _, derr := image.Decode(bytes.NewReader(data))
			if derr != nil {
				return errs.Wrap(errs.FileProcessingFailed, x.Path(), derr)
			}
			err = gif.Encode(&buf, img, nil)
		} else {
			err = gif.EncodeAll(&buf, g)
		}
		if err != nil {
			return errs.Wrap(errs.FileProcessingFailed, target, err)
		}
	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return errs.Wrap(errs.FileProcessingFailed, x.Path(), err)
		}
		if err := encodeImage(&buf, img, target); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errs.Wrap(errs.FileProcessingFailed, target, err)
	}
	return extract.WriteFile(target, buf.Bytes())
}

func encodeImage(buf *bytes.Buffer, img image.Image, target string) error {
	var err error
	switch strings.ToLower(filepath.Ext(target)) {
	case ".png":
		err = png.Encode(buf, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(buf, img, &jpeg.Options{Quality: 95})
	case ".tif", ".tiff":
		err = tiff.Encode(buf, img, nil)
	case ".bmp":
		err = bmp.Encode(buf, img)
	default:
		return errs.Newf(errs.FileProcessingFailed, target, "no encoder for %s images", filepath.Ext(target))
	}
	if err != nil {
		return errs.Wrap(errs.FileProcessingFailed, target, err)
	}
	return nil
}
