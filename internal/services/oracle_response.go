package services

import (
	"fmt"
	"strconv"
	"strings"
)

// OracleResponse parsed "RATIO:<int> CONFIDENCE:<int> SOURCE:<string>" payload
type OracleResponse struct {
	Ratio      int
	Confidence int
	Source     string
}

// ParseOracleResponse parses the oracle's text payload. Fields may appear in any order;
// all three are required and numbers must be plain non-negative integers.
func ParseOracleResponse(payload string) (*OracleResponse, error) {
	fields := strings.Fields(strings.TrimSpace(payload))
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty oracle response")
	}

	var resp OracleResponse
	seen := make(map[string]bool, 3)
	for _, field := range fields {
		key, value, ok := strings.Cut(field, ":")
		if !ok || value == "" {
			return nil, fmt.Errorf("malformed field %q", field)
		}
		key = strings.ToUpper(key)
		if seen[key] {
			return nil, fmt.Errorf("duplicate field %s", key)
		}
		seen[key] = true

		switch key {
		case "RATIO":
			n, err := parseWholeNumber(value)
			if err != nil {
				return nil, fmt.Errorf("ratio: %w", err)
			}
			resp.Ratio = n
		case "CONFIDENCE":
			n, err := parseWholeNumber(value)
			if err != nil {
				return nil, fmt.Errorf("confidence: %w", err)
			}
			if n > 100 {
				return nil, fmt.Errorf("confidence %d above 100", n)
			}
			resp.Confidence = n
		case "SOURCE":
			resp.Source = value
		default:
			return nil, fmt.Errorf("unknown field %s", key)
		}
	}

	for _, required := range []string{"RATIO", "CONFIDENCE", "SOURCE"} {
		if !seen[required] {
			return nil, fmt.Errorf("missing field %s", required)
		}
	}
	return &resp, nil
}

func parseWholeNumber(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a whole number", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}
	return n, nil
}

func (r *OracleResponse) String() string {
	return fmt.Sprintf("RATIO:%d CONFIDENCE:%d SOURCE:%s", r.Ratio, r.Confidence, r.Source)
}
