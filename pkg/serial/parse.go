package serial

import (
	"regexp"
	"strconv"
	"strings"

	"adhiba.xyz/iot-climate-service/pkg/models"
)

var fieldPattern = regexp.MustCompile(`(?i)\b(ID|T|H|B)\s*:\s*(-?[0-9]+(?:\.[0-9]+)?)`)

// ParseLine reads "ID:<int> T:<float> H:<float> B:<float>" in any order and case.
// It reports false when ID, T or H is missing or malformed; B is optional.
func ParseLine(line string) (*models.Reading, bool) {
	fields := map[string]string{}
	for _, m := range fieldPattern.FindAllStringSubmatch(line, -1) {
		key := strings.ToUpper(m[1])
		if _, seen := fields[key]; !seen {
			fields[key] = m[2]
		}
	}

	rawID, ok := fields["ID"]
	if !ok {
		return nil, false
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, false
	}

	temperature, ok := parseFloat(fields, "T")
	if !ok {
		return nil, false
	}
	humidity, ok := parseFloat(fields, "H")
	if !ok {
		return nil, false
	}

	reading := &models.Reading{
		DeviceID:    id,
		Temperature: temperature,
		Humidity:    humidity,
	}
	if battery, ok := parseFloat(fields, "B"); ok {
		reading.Battery = &battery
	}
	return reading, true
}

func parseFloat(fields map[string]string, key string) (float64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}
