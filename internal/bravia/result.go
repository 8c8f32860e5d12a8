package bravia

import (
	"fmt"
	"strconv"
)

// PowerStatus extracts result[0].status from a getPowerStatus reply
func PowerStatus(resp *Response) (string, error) {
	for _, item := range resultItems(resp) {
		if obj, ok := item.(map[string]any); ok {
			if status, ok := obj["status"].(string); ok {
				return status, nil
			}
		}
	}
	return "", fmt.Errorf("no power status in response")
}

// Brightness extracts the brightness value from a getPictureQualitySettings
// reply. Displays report it as "currentValue"; "value" is accepted too.
func Brightness(resp *Response) (string, error) {
	for _, item := range resultItems(resp) {
		// settings arrive either as a flat list or nested one level deeper
		candidates := []any{item}
		if nested, ok := item.([]any); ok {
			candidates = nested
		}

		for _, c := range candidates {
			obj, ok := c.(map[string]any)
			if !ok || obj["target"] != BrightnessTarget {
				continue
			}
			for _, key := range []string{"currentValue", "value"} {
				if v, ok := obj[key]; ok {
					return stringify(v), nil
				}
			}
		}
	}
	return "", fmt.Errorf("no brightness setting in response")
}

func resultItems(resp *Response) []any {
	if resp == nil || resp.Parsed == nil {
		return nil
	}
	items, _ := resp.Parsed["result"].([]any)
	return items
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
