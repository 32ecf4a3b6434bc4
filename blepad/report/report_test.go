package report

import (
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	tcs := []struct {
		name  string
		state uint16
		want  Payload
	}{
		{"zero", 0x0000, Payload{0x00, 0x00}},
		{"up", 0x0001, Payload{0x01, 0x00}},
		{"y", 0x0080, Payload{0x80, 0x00}},
		{"l", 0x0100, Payload{0x00, 0x01}},
		{"select+up", 0x0801, Payload{0x01, 0x08}},
		{"all", 0x0FFF, Payload{0xFF, 0x0F}},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if got := Encode(tc.state); got != tc.want {
				t.Fatalf("Encode(%#04x) = %v; want %v", tc.state, got, tc.want)
			}
			if got := tc.want.State(); got != tc.state {
				t.Fatalf("State() = %#04x; want %#04x", got, tc.state)
			}
		})
	}
}

func TestDecodeLength(t *testing.T) {
	if _, err := Decode([]byte{0x01}); !errors.Is(err, ErrBadLengthData) {
		t.Fatalf("err = %v; want ErrBadLengthData", err)
	}
	if _, err := Decode([]byte{0x01, 0x02, 0x03}); !errors.Is(err, ErrBadLengthData) {
		t.Fatalf("err = %v; want ErrBadLengthData", err)
	}
	v, err := Decode([]byte{0x34, 0x12})
	if nil != err || v != 0x1234 {
		t.Fatalf("Decode = %#x, %v", v, err)
	}
}

func TestString(t *testing.T) {
	if got := Encode(0x0410).String(); got != "Payload: 0x10 0x04" {
		t.Fatalf("String() = %q", got)
	}
	if got := FormatState(0x0410); got != "0x0410" {
		t.Fatalf("FormatState = %q", got)
	}
}
