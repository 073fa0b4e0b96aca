// Package imaging turns an uploaded scan into a displayable PNG plus the few
// header fields the dashboard shows.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/joelkehle/cancer-navigator/internal/apperr"
)

const (
	FormatDICOM = "dicom"
	FormatJPEG  = "jpeg"
	FormatPNG   = "png"

	NotAvailable = "N/A"
)

// Metadata never includes patient name or identifiers.
type Metadata struct {
	Age      string `json:"age"`
	Sex      string `json:"sex"`
	Modality string `json:"modality"`
}

type Scan struct {
	Filename string   `json:"filename"`
	Format   string   `json:"format"`
	Metadata Metadata `json:"metadata"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	PNG      []byte   `json:"png"`
}

func FormatFor(filename string) (string, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".dcm":
		return FormatDICOM, true
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	case ".png":
		return FormatPNG, true
	}
	return "", false
}

func Decode(filename string, data []byte) (Scan, error) {
	format, ok := FormatFor(filename)
	if !ok {
		return Scan{}, apperr.UnsupportedInput("unsupported file type: upload a .dcm, .jpg or .png image")
	}
	scan := Scan{Filename: filepath.Base(filename), Format: format, Metadata: Metadata{Age: NotAvailable, Sex: NotAvailable, Modality: NotAvailable}}

	var img image.Image
	switch format {
	case FormatDICOM:
		ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
		if err != nil {
			return Scan{}, apperr.UnsupportedInput(fmt.Sprintf("could not read DICOM file: %v", err))
		}
		scan.Metadata = metadataFrom(ds)
		raw, err := firstFrame(ds)
		if err != nil {
			return Scan{}, err
		}
		img = Rescale(raw)
	default:
		decoded, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Scan{}, apperr.UnsupportedInput(fmt.Sprintf("could not decode image: %v", err))
		}
		img = decoded
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Scan{}, apperr.Internal("encode png", err)
	}
	b := img.Bounds()
	scan.Width, scan.Height = b.Dx(), b.Dy()
	scan.PNG = buf.Bytes()
	return scan, nil
}

func metadataFrom(ds dicom.Dataset) Metadata {
	return Metadata{
		Age:      stringElement(ds, tag.PatientAge),
		Sex:      stringElement(ds, tag.PatientSex),
		Modality: stringElement(ds, tag.Modality),
	}
}

func stringElement(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return NotAvailable
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return NotAvailable
	}
	return strings.TrimSpace(vals[0])
}

func firstFrame(ds dicom.Dataset) (image.Image, error) {
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil || el == nil || el.Value == nil {
		return nil, apperr.UnsupportedInput("DICOM file has no pixel data")
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, apperr.UnsupportedInput("DICOM file has no pixel data")
	}
	img, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, apperr.UnsupportedInput(fmt.Sprintf("could not read DICOM frame: %v", err))
	}
	return img, nil
}

// Rescale maps the image's intensities to 0..255 against its own maximum.
// An all-zero image stays black.
func Rescale(src image.Image) *image.Gray {
	b := src.Bounds()
	var max uint32
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if v := intensity(src.At(x, y)); v > max {
				max = v
			}
		}
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if max == 0 {
		return dst
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := intensity(src.At(x, y))
			dst.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: uint8(uint64(v) * 255 / uint64(max))})
		}
	}
	return dst
}

func intensity(c color.Color) uint32 {
	return uint32(color.Gray16Model.Convert(c).(color.Gray16).Y)
}
