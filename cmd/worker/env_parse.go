package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func parseOptionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

// parseSeedInts reads "key=int,key=int" pairs, e.g.
// INVENTORY_STOCK="sku-1=10,sku-2=3".
func parseSeedInts(name string) (map[string]int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed pair %q", name, pair)
		}
		val, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if val < 0 {
			return nil, fmt.Errorf("%s: %q must be >= 0", name, key)
		}
		out[strings.TrimSpace(key)] = val
	}
	return out, nil
}

// parseSeedFloats reads "key=float,key=float" pairs, e.g.
// CUSTOMER_BALANCES="cust-1=100.50".
func parseSeedFloats(name string) (map[string]float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed pair %q", name, pair)
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if val < 0 {
			return nil, fmt.Errorf("%s: %q must be >= 0", name, key)
		}
		out[strings.TrimSpace(key)] = val
	}
	return out, nil
}
