package models

import (
	"math"
	"strconv"
)

// HardwareSnapshot captures host-level utilisation for one sampling interval.
// Values are coarse on purpose: whole percentages and KiB with two decimals.
type HardwareSnapshot struct {
	CPUPercent uint8 `json:"cpu"`
	MemPercent uint8 `json:"mem"`
	NetKiB     KiB   `json:"net"`
}

// KiB is a network volume in kibibytes, always encoded with two fractional digits.
type KiB float64

// KiBFromBytes converts a byte count to KiB rounded half away from zero to two places.
func KiBFromBytes(bytes uint64) KiB {
	return KiB(RoundTo(float64(bytes)/1024, 2))
}

func (k KiB) MarshalJSON() ([]byte, error) {
	v := float64(k)
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		v = 0
	}
	return strconv.AppendFloat(nil, v, 'f', 2, 64), nil
}

func (k *KiB) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*k = KiB(v)
	return nil
}

// String renders the value the same way it is encoded on the wire.
func (k KiB) String() string {
	return strconv.FormatFloat(float64(k), 'f', 2, 64)
}

// RoundTo rounds num half away from zero to the given number of decimal places.
func RoundTo(num float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(num*factor) / factor
}
