package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParseASN parses an ASN that can be either a string or number.
func ParseASN(data json.RawMessage) uint32 {
	if len(data) == 0 {
		return 0
	}

	var num uint32
	if err := json.Unmarshal(data, &num); err == nil {
		return num
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, _ := strconv.ParseUint(str, 10, 32)
		return uint32(val)
	}

	return 0
}

// ParseASPath flattens an AS path which may contain nested arrays (AS_SET).
// Input can be: [174, 3356, 65001] or [[174], [3356, 65001], 65002]
func ParseASPath(data json.RawMessage) ([]uint32, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var simpleArray []uint32
	if err := json.Unmarshal(data, &simpleArray); err == nil {
		return simpleArray, nil
	}

	var mixedArray []json.RawMessage
	if err := json.Unmarshal(data, &mixedArray); err != nil {
		return nil, fmt.Errorf("cannot parse path: %w", err)
	}

	var result []uint32
	for _, elem := range mixedArray {
		var num uint32
		if err := json.Unmarshal(elem, &num); err == nil {
			result = append(result, num)
			continue
		}

		var nums []uint32
		if err := json.Unmarshal(elem, &nums); err == nil {
			result = append(result, nums...)
			continue
		}
	}

	return result, nil
}

// ParseCommunities converts community data to "ASN:value" string format.
// Input can be: [[65535, 666], [3356, 9999]] or ["65535:666"]
func ParseCommunities(data []json.RawMessage) []string {
	if data == nil {
		return nil
	}

	var result []string
	for _, elem := range data {
		var tuple []uint32
		if err := json.Unmarshal(elem, &tuple); err == nil && len(tuple) == 2 {
			result = append(result, strconv.FormatUint(uint64(tuple[0]), 10)+":"+strconv.FormatUint(uint64(tuple[1]), 10))
			continue
		}

		var str string
		if err := json.Unmarshal(elem, &str); err == nil {
			result = append(result, str)
		}
	}

	return result
}

// ParseASNString parses "13335" or "AS13335".
func ParseASNString(s string) (uint32, error) {
	if len(s) > 2 && (s[:2] == "AS" || s[:2] == "as") {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid ASN %q: %w", s, err)
	}
	return uint32(v), nil
}
