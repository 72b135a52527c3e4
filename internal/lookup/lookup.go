// Package lookup resolves a barcode into its ordered broadcast messages.
//
// Implementations must return an ordered, possibly empty list and never
// alter the barcode they were given.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTimeout is returned when a networked lookup gets no answer in time.
var ErrTimeout = errors.New("lookup: timed out waiting for response")

// Lookup is the message lookup capability.
type Lookup interface {
	Lookup(ctx context.Context, barcode string) ([]string, error)
}

// DefaultTemplate renders one broadcast line. %s is the barcode, %d the
// 1-based index.
const DefaultTemplate = "Broadcast for %s - %d"

// DefaultCount is the number of broadcasts per barcode.
const DefaultCount = 3

// Broadcasts derives a fixed list of labeled messages from the barcode.
type Broadcasts struct {
	Count    int
	Template string
}

// NewBroadcasts validates the template and fills defaults for zero values.
func NewBroadcasts(count int, template string) (Broadcasts, error) {
	if count < 0 {
		return Broadcasts{}, fmt.Errorf("lookup: count must be >= 0, got %d", count)
	}
	if template == "" {
		template = DefaultTemplate
	}
	is, id := strings.Index(template, "%s"), strings.Index(template, "%d")
	if is < 0 || id < 0 || id < is {
		return Broadcasts{}, fmt.Errorf("lookup: template %q must contain %%s followed by %%d", template)
	}
	return Broadcasts{Count: count, Template: template}, nil
}

// Lookup implements Lookup. A zero Broadcasts yields DefaultCount lines.
func (b Broadcasts) Lookup(ctx context.Context, barcode string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	count, tmpl := b.Count, b.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
		if count == 0 {
			count = DefaultCount
		}
	}
	out := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, fmt.Sprintf(tmpl, barcode, i))
	}
	return out, nil
}

// Func adapts a function to Lookup.
type Func func(ctx context.Context, barcode string) ([]string, error)

// Lookup calls f.
func (f Func) Lookup(ctx context.Context, barcode string) ([]string, error) {
	return f(ctx, barcode)
}
