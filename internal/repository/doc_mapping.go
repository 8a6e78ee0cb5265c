package repository

import (
	"time"

	"Crewline/internal/pkg/docstore"
)

// 文档集合名
const (
	ColConversations = "conversations"
	ColMessages      = "messages"
	ColCalls         = "calls"
)

// 快照字段读取辅助。存储端返回的是弱类型 Doc，这里统一收敛类型转换。

func docString(d docstore.Doc, key string) string {
	s, _ := d[key].(string)
	return s
}

func docTime(d docstore.Doc, key string) time.Time {
	t, _ := d[key].(time.Time)
	return t
}

func docStrings(d docstore.Doc, key string) []string {
	switch arr := d[key].(type) {
	case []string:
		out := make([]string, len(arr))
		copy(out, arr)
		return out
	case []any:
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func docSub(d docstore.Doc, key string) docstore.Doc {
	switch m := d[key].(type) {
	case docstore.Doc:
		return m
	case map[string]any:
		return m
	}
	return nil
}

func docInt64Map(d docstore.Doc, key string) map[string]int64 {
	sub := docSub(d, key)
	if sub == nil {
		return map[string]int64{}
	}
	out := make(map[string]int64, len(sub))
	for k, v := range sub {
		switch n := v.(type) {
		case int64:
			out[k] = n
		case int:
			out[k] = int64(n)
		case int32:
			out[k] = int64(n)
		case float64:
			out[k] = int64(n)
		}
	}
	return out
}

func docBoolMap(d docstore.Doc, key string) map[string]bool {
	sub := docSub(d, key)
	if sub == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(sub))
	for k, v := range sub {
		b, _ := v.(bool)
		out[k] = b
	}
	return out
}

func docTimeMap(d docstore.Doc, key string) map[string]time.Time {
	sub := docSub(d, key)
	if sub == nil {
		return nil
	}
	out := make(map[string]time.Time, len(sub))
	for k, v := range sub {
		if t, ok := v.(time.Time); ok {
			out[k] = t
		}
	}
	return out
}

func docStringsMap(d docstore.Doc, key string) map[string][]string {
	sub := docSub(d, key)
	out := make(map[string][]string, len(sub))
	for k := range sub {
		out[k] = docStrings(sub, k)
	}
	return out
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
