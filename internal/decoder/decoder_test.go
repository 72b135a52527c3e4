package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamodiJayakody/barcode-app/internal/capture"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg      string
		wantMiss bool
	}{
		{"No barcode found", true},
		{"No barcode value found", true},
		{"  no barcode found ", true},
		{"camera buffer corrupted", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := ClassifyMessage("test", tt.msg)
			require.Error(t, err)
			assert.Equal(t, tt.wantMiss, IsMiss(err))

			if !tt.wantMiss {
				var derr *Error
				require.True(t, errors.As(err, &derr))
				assert.Equal(t, "test", derr.Decoder)
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("pipe closed")
	err := Fail("subprocess", "write request", cause)

	assert.ErrorIs(t, err, cause)
	assert.False(t, IsMiss(err))
	assert.Contains(t, err.Error(), "subprocess decoder: write request")
}

func TestParseFormats(t *testing.T) {
	got, err := ParseFormats(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFormats, got)

	got, err = ParseFormats([]string{"QR", " ean13"})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatQR, FormatEAN13}, got)

	_, err = ParseFormats([]string{"pdf417"})
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	var d Decoder = Func(func(ctx context.Context, f *capture.Frame) (string, error) {
		return "X", nil
	})
	v, err := d.Decode(context.Background(), &capture.Frame{})
	require.NoError(t, err)
	assert.Equal(t, "X", v)
}

func encodedFrame(t *testing.T, writer gozxing.Writer, format gozxing.BarcodeFormat, text string, w, h int) *capture.Frame {
	t.Helper()
	matrix, err := writer.Encode(text, format, w, h, nil)
	require.NoError(t, err)
	frame := capture.FrameFromImage(matrix, "generated")
	return &frame
}

func TestZXing_DecodesQR(t *testing.T) {
	frame := encodedFrame(t, qrcode.NewQRCodeWriter(), gozxing.BarcodeFormat_QR_CODE, "4006381333931", 240, 240)

	z := NewZXing(nil, false)
	v, err := z.Decode(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, "4006381333931", v)
}

func TestZXing_DecodesCode128(t *testing.T) {
	frame := encodedFrame(t, oned.NewCode128Writer(), gozxing.BarcodeFormat_CODE_128, "SKU-12345", 400, 120)

	z := NewZXing([]Format{FormatCode128}, false)
	v, err := z.Decode(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, "SKU-12345", v)
}

func TestZXing_BlankFrameIsMiss(t *testing.T) {
	frame := &capture.Frame{Width: 64, Height: 48, Format: capture.FormatGray8, Data: make([]byte, 64*48)}

	_, err := NewZXing(nil, false).Decode(context.Background(), frame)
	require.Error(t, err)
	assert.True(t, IsMiss(err), "blank frame should be a miss, got %v", err)
}

func TestZXing_NV21UsesLuminancePlane(t *testing.T) {
	gray := encodedFrame(t, qrcode.NewQRCodeWriter(), gozxing.BarcodeFormat_QR_CODE, "nv21", 160, 160)

	data := make([]byte, capture.FormatNV21.BufferSize(gray.Width, gray.Height))
	copy(data, gray.Data)
	for i := len(gray.Data); i < len(data); i++ {
		data[i] = 0x80 // neutral chroma
	}
	frame := &capture.Frame{Width: gray.Width, Height: gray.Height, Format: capture.FormatNV21, Data: data}

	v, err := NewZXing([]Format{FormatQR}, false).Decode(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, "nv21", v)
}

func TestZXing_InvalidFrameIsHardFailure(t *testing.T) {
	frame := &capture.Frame{Width: 64, Height: 48, Data: make([]byte, 10)}

	_, err := NewZXing(nil, false).Decode(context.Background(), frame)
	require.Error(t, err)
	assert.False(t, IsMiss(err))

	var derr *Error
	assert.True(t, errors.As(err, &derr))
}
