// Package decoder turns a raw camera frame into a barcode value.
//
// Decoders are invoked by the throttle's decode loop only, so implementations
// never see concurrent Decode calls from the pipeline. They must still be safe
// for sequential use from different goroutines.
//
// Outcomes are typed:
//   - a non-empty value and nil error: barcode found
//   - ErrNoBarcode (IsMiss reports true): nothing recognisable in the frame
//   - *Error: the decoder itself failed
package decoder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
)

// Decoder decodes a single frame.
type Decoder interface {
	Decode(ctx context.Context, frame *capture.Frame) (string, error)
}

// ErrNoBarcode reports that no barcode (or no barcode value) was found.
var ErrNoBarcode = errors.New("no barcode found")

// Error is a hard decoder failure.
type Error struct {
	// Decoder names the implementation ("zxing", "subprocess", ...)
	Decoder string
	// Reason is the failure message reported by the decoder
	Reason string
	// Err is the underlying error, if any
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s decoder: %s: %v", e.Decoder, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s decoder: %s", e.Decoder, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// IsMiss reports whether err means "no barcode present".
func IsMiss(err error) bool {
	return errors.Is(err, ErrNoBarcode)
}

// Fail builds a hard failure.
func Fail(name, reason string, err error) error {
	return &Error{Decoder: name, Reason: reason, Err: err}
}

// ClassifyMessage maps a decoder's failure message to a typed outcome.
// "No barcode found" and "No barcode value found" are misses; anything else
// is a hard failure.
func ClassifyMessage(name, msg string) error {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "no barcode found", "no barcode value found", "not found":
		return ErrNoBarcode
	case "":
		return Fail(name, "unknown failure", nil)
	default:
		return Fail(name, msg, nil)
	}
}

// Func adapts a plain function to the Decoder interface.
type Func func(ctx context.Context, frame *capture.Frame) (string, error)

// Decode calls f.
func (f Func) Decode(ctx context.Context, frame *capture.Frame) (string, error) {
	return f(ctx, frame)
}

// Format is a symbology accepted by the decoders.
type Format string

const (
	FormatQR      Format = "qr"
	FormatCode128 Format = "code128"
	FormatCode39  Format = "code39"
	FormatEAN13   Format = "ean13"
	FormatEAN8    Format = "ean8"
	FormatUPCA    Format = "upca"
)

// DefaultFormats is used when no formats are configured.
var DefaultFormats = []Format{FormatQR, FormatCode128, FormatEAN13, FormatEAN8, FormatUPCA, FormatCode39}

// ParseFormats validates configured symbology names.
func ParseFormats(names []string) ([]Format, error) {
	if len(names) == 0 {
		return DefaultFormats, nil
	}
	out := make([]Format, 0, len(names))
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		switch f {
		case FormatQR, FormatCode128, FormatCode39, FormatEAN13, FormatEAN8, FormatUPCA:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("decoder: unknown format %q", n)
		}
	}
	return out, nil
}
