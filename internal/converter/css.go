package converter

import (
	"regexp"
	"strconv"
	"strings"
)

// Kindle renderers ignore or mishandle several CSS features, so the
// stylesheet flows are normalized before packing:
//
//   - position:fixed and position:absolute are dropped
//   - transform, transition and animation declarations are dropped
//   - vendor-prefixed properties are dropped
//   - negative margins are dropped
//   - px and pt lengths become em (16px = 1em, 12pt = 1em)
//
// Everything else — selectors, at-rules, comments, string values —
// passes through byte for byte.

// lengthRe matches a px or pt length; the divisor map below converts
// each unit to em.
var lengthRe = regexp.MustCompile(`(\d+(?:\.\d+)?)(px|pt)`)

var emDivisor = map[string]float64{
	"px": 16,
	"pt": 12,
}

// negativeNumberRe matches a negative numeric token inside a value.
var negativeNumberRe = regexp.MustCompile(`-\s*\.?\d`)

// NormalizeStylesheet rewrites one stylesheet flow for Kindle output.
func NormalizeStylesheet(css string) string {
	var out strings.Builder
	out.Grow(len(css))

	var decl strings.Builder
	inBlock := false

	// emitDecl processes the buffered declaration; withSemicolon says
	// whether its terminating semicolon should follow.
	emitDecl := func(withSemicolon bool) {
		text := decl.String()
		decl.Reset()

		property, value, isDecl := cutDeclaration(text)
		switch {
		case !isDecl:
			out.WriteString(text)
		case dropDeclaration(property, value):
			return
		default:
			out.WriteString(lengthsToEm(text))
		}
		if withSemicolon {
			out.WriteByte(';')
		}
	}

	i := 0
	for i < len(css) {
		// Comments and strings pass through wherever they appear.
		if skip := spanComment(css[i:]); skip > 0 {
			target := &out
			if inBlock {
				target = &decl
			}
			target.WriteString(css[i : i+skip])
			i += skip
			continue
		}
		if skip := spanString(css[i:]); skip > 0 {
			target := &out
			if inBlock {
				target = &decl
			}
			target.WriteString(css[i : i+skip])
			i += skip
			continue
		}

		ch := css[i]
		switch {
		case ch == '{':
			// Entering a block; buffered text was a selector or an
			// at-rule prelude.
			if inBlock {
				out.WriteString(decl.String())
				decl.Reset()
			}
			out.WriteByte('{')
			inBlock = true
		case ch == '}':
			if inBlock {
				emitDecl(false)
			}
			out.WriteByte('}')
			inBlock = false
		case ch == ';' && inBlock:
			emitDecl(true)
		case inBlock:
			decl.WriteByte(ch)
		default:
			out.WriteByte(ch)
		}
		i++
	}
	out.WriteString(decl.String())

	return out.String()
}

// cutDeclaration splits "property: value" and reports whether text is
// a declaration at all.
func cutDeclaration(text string) (property, value string, ok bool) {
	property, value, found := strings.Cut(text, ":")
	if !found {
		return "", "", false
	}
	property = strings.ToLower(strings.TrimSpace(property))
	if property == "" || strings.ContainsAny(property, " \t\n") {
		return "", "", false
	}
	return property, strings.TrimSpace(value), true
}

// dropDeclaration reports whether a declaration must not reach the
// packed flow.
func dropDeclaration(property, value string) bool {
	value = strings.ToLower(value)

	if strings.HasPrefix(property, "-") {
		return true
	}
	switch property {
	case "position":
		return value == "fixed" || value == "absolute"
	case "transform", "transition", "animation":
		return true
	}
	if strings.HasPrefix(property, "transition-") || strings.HasPrefix(property, "animation-") {
		return true
	}
	if property == "margin" || strings.HasPrefix(property, "margin-") {
		return negativeNumberRe.MatchString(value)
	}
	return false
}

// lengthsToEm converts px and pt lengths in a declaration to em.
// Quoted strings and comments inside the value are left alone.
func lengthsToEm(text string) string {
	var out strings.Builder
	i := 0
	for i < len(text) {
		if skip := spanComment(text[i:]); skip > 0 {
			out.WriteString(text[i : i+skip])
			i += skip
			continue
		}
		if skip := spanString(text[i:]); skip > 0 {
			out.WriteString(text[i : i+skip])
			i += skip
			continue
		}
		j := i
		for j < len(text) && spanComment(text[j:]) == 0 && spanString(text[j:]) == 0 {
			j++
		}
		out.WriteString(convertLengths(text[i:j]))
		i = j
	}
	return out.String()
}

func convertLengths(text string) string {
	return lengthRe.ReplaceAllStringFunc(text, func(match string) string {
		m := lengthRe.FindStringSubmatch(match)
		size, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return match
		}
		return strconv.FormatFloat(size/emDivisor[m[2]], 'f', -1, 64) + "em"
	})
}

// spanComment returns the length of the comment at the start of s, or
// 0. An unterminated comment spans to the end.
func spanComment(s string) int {
	if !strings.HasPrefix(s, "/*") {
		return 0
	}
	end := strings.Index(s[2:], "*/")
	if end < 0 {
		return len(s)
	}
	return end + 4
}

// spanString returns the length of the quoted string at the start of
// s, or 0. Escapes are honored; an unterminated string spans to the
// end.
func spanString(s string) int {
	if len(s) == 0 || (s[0] != '"' && s[0] != '\'') {
		return 0
	}
	quote := s[0]
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return i + 1
		}
	}
	return len(s)
}
