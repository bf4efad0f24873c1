package notes

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatTime renders seconds as m:ss. Minutes are not wrapped into hours.
func FormatTime(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

// ParseTime accepts plain seconds ("95"), m:ss ("1:35") or h:mm:ss
// ("1:01:35").
func ParseTime(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse time %q: %w", s, ErrInvalidTime)
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("parse time %q: too many fields", s)
	}

	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("parse time %q: %w", s, err)
		}
		if n < 0 {
			return 0, fmt.Errorf("parse time %q: %w", s, ErrInvalidTime)
		}
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("parse time %q: field %d out of range", s, i)
		}
		total = total*60 + n
	}
	return total, nil
}
