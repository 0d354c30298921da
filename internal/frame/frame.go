// Package frame encodes temperature readings into the fixed-length HID
// output report understood by Sigma 520 class cooler displays.
//
// Report layout (65 bytes):
//
//	byte 0       report ID, always 0x00
//	byte 1       command byte, always 0x10
//	bytes 2..N   one seven-segment mask per digit position, most
//	             significant first (N = 2 + digit capacity - 1)
//	remainder    zero padding
//
// Segment masks use gfedcba bit order: bit 0 lights segment a (top), bit 6
// segment g (middle).
package frame

import (
	"codeberg.org/mutker/tempdisplayctl/internal/sensor"
)

const (
	// Size is the full output report length, report ID included.
	Size = 65

	// ReportID precedes the payload on the wire.
	ReportID = 0x00

	// Command selects the temperature rendering mode of the panel firmware.
	Command = 0x10

	digitOffset = 2
)

// Seven-segment masks for the decimal digits, gfedcba order.
var segDigits = [10]byte{
	0x3F, // 0
	0x06, // 1
	0x5B, // 2
	0x4F, // 3
	0x66, // 4
	0x6D, // 5
	0x7D, // 6
	0x07, // 7
	0x7F, // 8
	0x6F, // 9
}

const (
	segBlank = 0x00
	segMinus = 0x40 // segment g only
	segH     = 0x76
	segI     = 0x06
	segL     = 0x38
	segO     = 0x3F
)

// Frame is one immutable output report. Frames are comparable, which the
// poll loop uses to skip rewrites of an unchanged image.
type Frame [Size]byte

// Payload returns the bytes sent in the SET_REPORT transfer. With report ID
// zero the ID byte itself stays off the wire.
func (f Frame) Payload() []byte {
	return f[1:]
}

// Encoder renders readings for a panel with a fixed digit capacity.
type Encoder struct {
	digits int
	max    int
	min    int
}

// New returns an encoder for a panel with the given digit capacity.
// Negative temperatures spend the leading position on the minus sign.
func New(digits int) *Encoder {
	max := 1
	for i := 0; i < digits; i++ {
		max *= 10
	}

	return &Encoder{
		digits: digits,
		max:    max - 1,
		min:    -(max/10 - 1),
	}
}

// Capacity returns the representable range.
func (e *Encoder) Capacity() (min, max int) {
	return e.min, e.max
}

// Encode deterministically maps a reading to its output report. It never
// fails: unavailable and malformed readings render the error glyph, values
// beyond the panel's capacity the overflow or underflow glyph.
func (e *Encoder) Encode(r sensor.Reading) Frame {
	var f Frame
	f[0] = ReportID
	f[1] = Command

	switch {
	case r.State != sensor.StateValid:
		for i := 0; i < e.digits; i++ {
			f[digitOffset+i] = segMinus
		}
	case r.Celsius > e.max:
		e.place(&f, segH, segI)
	case r.Celsius < e.min:
		e.place(&f, segL, segO)
	default:
		e.placeNumber(&f, r.Celsius)
	}

	return f
}

// place right-aligns a glyph pair, dropping the second mask on a
// single-digit panel.
func (e *Encoder) place(f *Frame, first, second byte) {
	if e.digits == 1 {
		f[digitOffset] = first
		return
	}

	for i := 0; i < e.digits-2; i++ {
		f[digitOffset+i] = segBlank
	}
	f[digitOffset+e.digits-2] = first
	f[digitOffset+e.digits-1] = second
}

func (e *Encoder) placeNumber(f *Frame, value int) {
	masks := make([]byte, 0, e.digits)

	v := value
	if v < 0 {
		v = -v
	}
	for {
		masks = append(masks, segDigits[v%10])
		v /= 10
		if v == 0 {
			break
		}
	}
	if value < 0 {
		masks = append(masks, segMinus)
	}

	// masks holds the number least significant first; right-align it
	pos := digitOffset + e.digits - 1
	for _, m := range masks {
		f[pos] = m
		pos--
	}
}

// Decode recovers the numeric value from a frame's digit bytes under the
// documented segment table. ok is false for the error, overflow and
// underflow glyphs.
func (e *Encoder) Decode(f Frame) (value int, ok bool) {
	negative := false
	seenDigit := false

	for i := 0; i < e.digits; i++ {
		mask := f[digitOffset+i]
		switch {
		case mask == segBlank && !seenDigit:
			continue
		case mask == segMinus && !seenDigit && !negative:
			negative = true
		default:
			d, found := digitForMask(mask)
			if !found {
				return 0, false
			}
			value = value*10 + d
			seenDigit = true
		}
	}

	if !seenDigit {
		return 0, false
	}
	if negative {
		value = -value
	}

	return value, true
}

func digitForMask(mask byte) (int, bool) {
	for d, m := range segDigits {
		if m == mask {
			return d, true
		}
	}

	return 0, false
}
