package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// toInt accepts integral numbers as decoded from JSON or passed from Go.
func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, v)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: expected a number, got %T", ErrInvalidValue, value)
	}
}

func toBool(value any) (bool, error) {
	v, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expected a bool, got %T", ErrInvalidValue, value)
	}
	return v, nil
}

// toOption accepts a string or an integral number.
func toOption(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	n, err := toInt(value)
	if err != nil {
		return "", fmt.Errorf("%w: expected an option, got %T", ErrInvalidValue, value)
	}
	return strconv.Itoa(n), nil
}

func checkRange(key string, v, low, high int) error {
	if v < low || v > high {
		return fmt.Errorf("%w: %s=%d not in [%d, %d]", ErrOutOfRange, key, v, low, high)
	}
	return nil
}

func checkOption(key, v string, options []string) error {
	if !slices.Contains(options, v) {
		return fmt.Errorf("%w: %s=%q not in %v", ErrInvalidOption, key, v, options)
	}
	return nil
}
