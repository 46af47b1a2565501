// Package tagparser parses the `graphql` struct tags used to derive field
// selections from Go structs.
package tagparser

import (
	"fmt"
	"strings"
)

// Tag is a parsed `graphql` struct tag.
type Tag struct {
	// Name is the GraphQL field name.
	Name string
	// Alias is the response key requested for the field, if any.
	Alias string
	// Arguments is the raw argument text between the parentheses.
	Arguments string
	// Skip is set for the "-" tag.
	Skip bool
}

// Parse parses a tag value.
// Examples:
//   - "nation_name" -> {Name: "nation_name"}
//   - "cities(first: 3)" -> {Name: "cities", Arguments: "first: 3"}
//   - "top: nations(first: 1)" -> {Alias: "top", Name: "nations", Arguments: "first: 1"}
//   - "-" -> {Skip: true}
func Parse(tag string) (Tag, error) {
	tag = strings.TrimSpace(tag)

	var parsed Tag
	switch tag {
	case "":
		return parsed, nil
	case "-":
		parsed.Skip = true
		return parsed, nil
	}

	fieldPart := tag
	if open := strings.IndexByte(tag, '('); open != -1 {
		end := strings.LastIndexByte(tag, ')')
		if end < open {
			return Tag{}, fmt.Errorf("tagparser: unbalanced parentheses in %q", tag)
		}
		if rest := strings.TrimSpace(tag[end+1:]); rest != "" {
			return Tag{}, fmt.Errorf("tagparser: unexpected %q after arguments in %q", rest, tag)
		}
		parsed.Arguments = strings.TrimSpace(tag[open+1 : end])
		fieldPart = tag[:open]
	} else if strings.IndexByte(tag, ')') != -1 {
		return Tag{}, fmt.Errorf("tagparser: unbalanced parentheses in %q", tag)
	}

	if colon := strings.IndexByte(fieldPart, ':'); colon != -1 {
		parsed.Alias = strings.TrimSpace(fieldPart[:colon])
		fieldPart = fieldPart[colon+1:]
		if !IsName(parsed.Alias) {
			return Tag{}, fmt.Errorf("tagparser: invalid alias %q in %q", parsed.Alias, tag)
		}
	}

	parsed.Name = strings.TrimSpace(fieldPart)
	if !IsName(parsed.Name) {
		return Tag{}, fmt.Errorf("tagparser: invalid field name %q in %q", parsed.Name, tag)
	}
	return parsed, nil
}

// IsName reports whether s is a valid GraphQL name: /[_A-Za-z][_0-9A-Za-z]*/.
func IsName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// ReferencesVariable reports whether argument text uses a $variable outside
// of string literals.
func ReferencesVariable(args string) bool {
	inString, escaped := false, false
	for i := 0; i < len(args); i++ {
		c := args[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '$':
			return true
		}
	}
	return false
}
