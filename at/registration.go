package at

import (
	"fmt"
	"strings"
)

// Registration holds the fields of a +CREG unsolicited result code.
// LAC, CI and AcT are only present when location reporting (AT+CREG=2)
// is enabled.
type Registration struct {
	Status     string
	LAC        string
	CI         string
	AccessTech string
}

var regStatusNames = map[string]string{
	"0": "not registered",
	"1": "registered, home network",
	"2": "not registered, searching",
	"3": "registration denied",
	"4": "unknown",
	"5": "registered, roaming",
}

var accessTechNames = map[string]string{
	"0": "GSM",
	"2": "UTRAN",
	"3": "GSM w/EGPRS",
	"4": "UTRAN w/HSDPA",
	"5": "UTRAN w/HSUPA",
	"6": "UTRAN w/HSDPA and HSUPA",
	"7": "E-UTRAN",
}

// ParseRegistration parses a "+CREG: <stat>[,<lac>,<ci>[,<AcT>]]" frame.
// Numeric codes are mapped to human-readable descriptions; unknown codes
// are reported as such rather than rejected, since these frames are only
// used for logging.
func ParseRegistration(frame string) (Registration, error) {
	if !strings.HasPrefix(frame, UrcRegStatus) {
		return Registration{}, fmt.Errorf("not a +CREG frame: %q", frame)
	}

	body := strings.TrimSpace(strings.TrimPrefix(frame, UrcRegStatus))
	parts := strings.Split(body, ",")
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return Registration{}, fmt.Errorf("empty +CREG frame: %q", frame)
	}

	field := func(i int) string {
		if i >= len(parts) {
			return ""
		}
		return strings.Trim(strings.TrimSpace(parts[i]), `"`)
	}

	reg := Registration{
		Status:     "unknown status",
		LAC:        field(1),
		CI:         field(2),
		AccessTech: "unknown",
	}
	if name, ok := regStatusNames[field(0)]; ok {
		reg.Status = name
	}
	if name, ok := accessTechNames[field(3)]; ok {
		reg.AccessTech = name
	}
	return reg, nil
}
