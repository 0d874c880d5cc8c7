package letter

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ErrEmptyReply    = errors.New("empty model reply")
	ErrMalformed     = errors.New("model reply is not a JSON object")
	codeFencePattern = regexp.MustCompile("```(json)?")
)

// Category keys used by the older list-shaped replies:
// [{"Categorie": "...", "Beloop tijdens opname": "..."}].
const (
	legacyHeaderKey = "Categorie"
	legacyBodyKey   = "Beloop tijdens opname"
)

// StripCodeFences removes every markdown code fence marker from a model
// reply and trims the result.
func StripCodeFences(s string) string {
	return strings.TrimSpace(codeFencePattern.ReplaceAllString(s, ""))
}

// Parse turns a raw model reply into ordered sections. The reply may be
// wrapped in code fences. Non-string values are kept as their raw JSON text.
func Parse(raw string) (Sections, error) {
	clean := StripCodeFences(raw)
	if clean == "" {
		return nil, ErrEmptyReply
	}
	if !gjson.Valid(clean) {
		return nil, ErrMalformed
	}
	root := gjson.Parse(clean)
	switch {
	case root.IsObject():
		return objectSections(root), nil
	case root.IsArray():
		return legacySections(root)
	default:
		return nil, ErrMalformed
	}
}

func objectSections(obj gjson.Result) Sections {
	var out Sections
	obj.ForEach(func(key, value gjson.Result) bool {
		out = put(out, key.String(), valueText(value))
		return true
	})
	return out
}

func legacySections(arr gjson.Result) (Sections, error) {
	var out Sections
	var bad bool
	arr.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			bad = true
			return false
		}
		if header := item.Get(legacyHeaderKey); header.Exists() {
			out = put(out, valueText(header), valueText(item.Get(legacyBodyKey)))
			return true
		}
		item.ForEach(func(key, value gjson.Result) bool {
			out = put(out, key.String(), valueText(value))
			return true
		})
		return true
	})
	if bad {
		return nil, ErrMalformed
	}
	return out, nil
}

// put keeps the position of the first occurrence and the value of the last.
func put(s Sections, header, body string) Sections {
	for i := range s {
		if s[i].Header == header {
			s[i].Body = body
			return s
		}
	}
	return append(s, Section{Header: header, Body: body})
}

func valueText(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.String()
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}
