package collector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadAverage reads the host's 1-minute load average from /proc/loadavg.
func LoadAverage() (float64, error) {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	parts := strings.Fields(string(b))
	if len(parts) < 3 {
		return 0, fmt.Errorf("invalid loadavg")
	}
	return strconv.ParseFloat(parts[0], 64)
}
