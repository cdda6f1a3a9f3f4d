package market

import (
	"fmt"
	"time"
)

type Frequency string

const (
	FrequencyTick Frequency = "tick"
	FrequencyM1   Frequency = "1m"
	FrequencyM5   Frequency = "5m"
	FrequencyM15  Frequency = "15m"
	FrequencyH1   Frequency = "1h"
	FrequencyD1   Frequency = "1d"
)

func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyTick, FrequencyM1, FrequencyM5, FrequencyM15, FrequencyH1, FrequencyD1:
		return Frequency(s), nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

func (f Frequency) Period() time.Duration {
	switch f {
	case FrequencyM1:
		return time.Minute
	case FrequencyM5:
		return 5 * time.Minute
	case FrequencyM15:
		return 15 * time.Minute
	case FrequencyH1:
		return time.Hour
	case FrequencyD1:
		return 24 * time.Hour
	default:
		return 0
	}
}
