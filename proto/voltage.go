package proto

import "math"

// EncodeVoltage encodes a V123 rail voltage as a single BCD byte:
// integer digit in the high nibble, first decimal digit in the low
// nibble (9.9 → 0x99, 0.1 → 0x01, 5.9 → 0x59).
//
// The value is rounded half-away-from-zero to one decimal and clamped
// to [0.0, 9.9] before encoding.
func EncodeVoltage(v float64) byte {
	v = math.Round(v*10.0) / 10.0

	if v < 0.0 {
		v = 0.0
	}
	if v > 9.9 {
		v = 9.9
	}

	intPart := int(v)
	decPart := int(math.Round((v - float64(intPart)) * 10.0))

	return byte(intPart<<4 | decPart) //nolint:gosec
}

// EncodeV4Voltage encodes a V4 rail voltage as the device command code.
// A fixed set of calibrated rail voltages maps to dedicated codes that
// the firmware defines; every other value falls back to BCD encoding.
//
// The exact code values must never change, they are burned into the
// device firmware.
func EncodeV4Voltage(v float64) byte {
	v = math.Round(v*100.0) / 100.0

	switch {
	case math.Abs(v-2.90) < 0.01:
		return 0x29
	case math.Abs(v-3.20) < 0.01:
		return 0x32
	case math.Abs(v-3.45) < 0.01:
		return 0xD9
	case math.Abs(v-3.65) < 0.01:
		return 0xDB
	case math.Abs(v-3.85) < 0.01:
		return 0xDD
	case math.Abs(v-3.90) < 0.01:
		return 0x39
	case math.Abs(v-4.05) < 0.01:
		return 0xE5
	case math.Abs(v-4.70) < 0.01:
		return 0x47
	case math.Abs(v-5.50) < 0.01:
		return 0x55
	case math.Abs(v) < 0.01:
		return 0x00
	default:
		return EncodeVoltage(v)
	}
}

// ValidV123Voltage reports whether v is an acceptable V123 output
// voltage: 0.0 switches the rail off, otherwise [1.2, 5.0] volts.
func ValidV123Voltage(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return v == 0.0 || (v >= 1.2 && v <= 5.0)
}

// ValidV4Voltage reports whether v is an acceptable V4 output voltage:
// 0.0 switches the rail off, otherwise [1.60, 10.80] volts.
func ValidV4Voltage(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return v == 0.0 || (v >= 1.60 && v <= 10.80)
}
