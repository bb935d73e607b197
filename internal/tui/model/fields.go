package model

import (
	"errors"
	"strconv"
)

var (
	errNoChat = errors.New("no chat open")
	errNoCall = errors.New("no active call")
)

// Responses arrive as structpb maps, so every number is a float64.

func num(m map[string]any, key string) int64 {
	f, _ := m[key].(float64)
	return int64(f)
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func flag(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func objects(m map[string]any, key string) []map[string]any {
	list, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if o, ok := v.(map[string]any); ok {
			out = append(out, o)
		}
	}
	return out
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
