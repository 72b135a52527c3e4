package decoder

import (
	"context"
	"errors"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
)

// ZXing decodes frames in-process with the gozxing port of ZXing.
//
// The luminance plane of the frame is binarized once and offered to each
// configured reader in order; the first reader that recognises a symbol wins.
type ZXing struct {
	mu      sync.Mutex // gozxing readers keep state between calls
	readers []namedReader
	hints   map[gozxing.DecodeHintType]interface{}
}

type namedReader struct {
	format Format
	reader gozxing.Reader
}

// NewZXing builds a decoder for the given formats (DefaultFormats when empty).
// tryHarder trades speed for accuracy on blurry frames.
func NewZXing(formats []Format, tryHarder bool) *ZXing {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	z := &ZXing{hints: map[gozxing.DecodeHintType]interface{}{}}
	if tryHarder {
		z.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	for _, f := range formats {
		var r gozxing.Reader
		switch f {
		case FormatQR:
			r = qrcode.NewQRCodeReader()
		case FormatCode128:
			r = oned.NewCode128Reader()
		case FormatCode39:
			r = oned.NewCode39Reader()
		case FormatEAN13:
			r = oned.NewEAN13Reader()
		case FormatEAN8:
			r = oned.NewEAN8Reader()
		case FormatUPCA:
			r = oned.NewUPCAReader()
		default:
			continue
		}
		z.readers = append(z.readers, namedReader{format: f, reader: r})
	}
	return z
}

// Formats returns the enabled symbologies in reader order.
func (z *ZXing) Formats() []Format {
	out := make([]Format, len(z.readers))
	for i, r := range z.readers {
		out[i] = r.format
	}
	return out
}

// Decode implements Decoder.
func (z *ZXing) Decode(ctx context.Context, frame *capture.Frame) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Fail("zxing", "cancelled", err)
	}
	lum, err := frame.Luminance()
	if err != nil {
		return "", Fail("zxing", "invalid frame", err)
	}

	src, err := gozxing.NewPlanarYUVLuminanceSource(lum, frame.Width, frame.Height, 0, 0, frame.Width, frame.Height, false)
	if err != nil {
		return "", Fail("zxing", "luminance source", err)
	}
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return "", Fail("zxing", "binarize", err)
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	for _, nr := range z.readers {
		result, err := nr.reader.Decode(bmp, z.hints)
		nr.reader.Reset()
		if err == nil {
			if result.GetText() == "" {
				continue
			}
			return result.GetText(), nil
		}
		if !isZXingMiss(err) {
			return "", Fail("zxing", string(nr.format), err)
		}
	}
	return "", ErrNoBarcode
}

// isZXingMiss reports whether err is one of the "nothing usable here"
// exceptions. Format and checksum failures on a partial symbol are misses,
// not decoder faults.
func isZXingMiss(err error) bool {
	var notFound gozxing.NotFoundException
	var format gozxing.FormatException
	var checksum gozxing.ChecksumException
	return errors.As(err, &notFound) || errors.As(err, &format) || errors.As(err, &checksum)
}
