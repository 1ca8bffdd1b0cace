package helm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueFlag is one --set style override produced by FlattenValues.
type ValueFlag struct {
	Flag  string // --set, --set-string or --set-json
	Key   string
	Value string
}

// Arg renders the key=value argument following Flag.
func (v ValueFlag) Arg() string {
	return v.Key + "=" + v.Value
}

// FlattenValues turns a nested override map into dotted key paths sorted by
// key. Strings become --set-string, booleans, numbers and nulls become --set,
// and lists or empty maps are rendered as compact JSON with --set-json.
func FlattenValues(values map[string]any) ([]ValueFlag, error) {
	var out []ValueFlag
	if err := flatten("", values, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func flatten(prefix string, values map[string]any, out *[]ValueFlag) error {
	for k, v := range values {
		key := escapeKey(k)
		if prefix != "" {
			key = prefix + "." + key
		}

		switch val := v.(type) {
		case map[string]any:
			if len(val) == 0 {
				*out = append(*out, ValueFlag{Flag: "--set-json", Key: key, Value: "{}"})
				continue
			}
			if err := flatten(key, val, out); err != nil {
				return err
			}
		case string:
			*out = append(*out, ValueFlag{Flag: "--set-string", Key: key, Value: escapeValue(val)})
		case bool:
			*out = append(*out, ValueFlag{Flag: "--set", Key: key, Value: strconv.FormatBool(val)})
		case nil:
			*out = append(*out, ValueFlag{Flag: "--set", Key: key, Value: "null"})
		case float64:
			*out = append(*out, ValueFlag{Flag: "--set", Key: key, Value: strconv.FormatFloat(val, 'f', -1, 64)})
		case float32:
			*out = append(*out, ValueFlag{Flag: "--set", Key: key, Value: strconv.FormatFloat(float64(val), 'f', -1, 32)})
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
			*out = append(*out, ValueFlag{Flag: "--set", Key: key, Value: fmt.Sprint(val)})
		default:
			data, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("value %s: %w", key, err)
			}
			*out = append(*out, ValueFlag{Flag: "--set-json", Key: key, Value: string(data)})
		}
	}
	return nil
}

// escapeKey protects dots inside a single key segment from being read as nesting.
func escapeKey(k string) string {
	return strings.ReplaceAll(k, ".", `\.`)
}

// escapeValue protects the separators helm's strvals parser splits on.
func escapeValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, ",", `\,`)
}
