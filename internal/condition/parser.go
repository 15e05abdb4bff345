package condition

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrUnparseable is returned for clause text that carries no known verb.
var ErrUnparseable = errors.New("cannot parse condition")

// ExprPrefix marks condition text that is a CEL expression.
const ExprPrefix = "expr:"

type verb struct {
	phrase string
	op     Operator
}

// Order matters: negative phrases contain their positive counterparts'
// stems and must be tried first.
var verbs = []verb{
	{"does not equals", NotEquals},
	{"does not equal", NotEquals},
	{"doesn't equal", NotEquals},
	{"not equal to", NotEquals},
	{"does not contains", NotContains},
	{"does not contain", NotContains},
	{"doesn't contain", NotContains},
	{"starts with", StartsWith},
	{"begins with", StartsWith},
	{"equals", Equals},
	{"equal to", Equals},
	{"contains", Contains},
}

var (
	appliesIfPrefix = regexp.MustCompile(`(?i)^\s*(applies\s+if|apply\s+if|if)\b\s*:?\s*`)
	allItemsSuffix  = regexp.MustCompile(`(?i)\s+in\s+all\s+items\s*[.;]?\s*$`)
	itemNumber      = regexp.MustCompile(`^(\d+)[.)]\s`)
	quotedValue     = regexp.MustCompile(`'([^']*)'|"([^"]*)"|‘([^’]*)’|“([^”]*)”`)
)

var emptyTexts = map[string]bool{
	"":              true,
	"no condition":  true,
	"no conditions": true,
	"none":          true,
	"-":             true,
}

// Parse turns free-text condition text into a Predicate.
func Parse(text string) (Predicate, error) {
	pred := Predicate{Text: text}
	trimmed := strings.TrimSpace(text)

	if strings.HasPrefix(strings.ToLower(trimmed), ExprPrefix) {
		pred.Expr = strings.TrimSpace(trimmed[len(ExprPrefix):])
		if pred.Expr == "" {
			return pred, fmt.Errorf("%w: empty expression", ErrUnparseable)
		}
		return pred, nil
	}

	if emptyTexts[strings.TrimRight(strings.ToLower(trimmed), ".")] {
		return pred, nil
	}

	for _, seg := range splitItems(trimmed) {
		item, err := parseItem(seg.text)
		if err != nil {
			return Predicate{Text: text}, err
		}
		item.Number = seg.number
		if len(item.Clauses) == 0 {
			// An unconditional item makes the whole predicate hold.
			return Predicate{Text: text}, nil
		}
		pred.Items = append(pred.Items, item)
	}
	return pred, nil
}

type segment struct {
	number int
	text   string
}

// splitItems cuts text at "<N>." / "<N>)" markers found outside quotes.
func splitItems(text string) []segment {
	mask := quoteMask(text)

	var starts []int
	var numbers []int
	for i := 0; i < len(text); i++ {
		if mask[i] {
			continue
		}
		if i > 0 {
			prev := text[i-1]
			if prev != ' ' && prev != '\n' && prev != '\t' && prev != ';' && prev != ',' {
				continue
			}
		}
		m := itemNumber.FindStringSubmatch(text[i:])
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		starts = append(starts, i)
		numbers = append(numbers, n)
		i += len(m[0]) - 1
	}

	if len(starts) == 0 {
		return []segment{{text: text}}
	}

	var out []segment
	if lead := strings.TrimSpace(appliesIfPrefix.ReplaceAllString(text[:starts[0]], "")); lead != "" {
		out = append(out, segment{text: lead})
	}
	for k, start := range starts {
		end := len(text)
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		body := text[start:end]
		body = strings.TrimSpace(itemNumber.ReplaceAllString(body, ""))
		body = strings.TrimRight(body, " ;,")
		out = append(out, segment{number: numbers[k], text: body})
	}
	return out
}

func parseItem(text string) (Item, error) {
	text = appliesIfPrefix.ReplaceAllString(strings.TrimSpace(text), "")
	text = strings.TrimRight(text, " .;")

	var item Item
	for _, part := range splitAnd(text) {
		cond, ok, err := parseClause(part)
		if err != nil {
			// A bare list of quoted values continues the previous clause:
			// "Country equals 'ES', 'PT' and 'FR'".
			if vals := quotedValues(part); len(vals) > 0 && len(item.Clauses) > 0 && onlyQuoted(part) {
				last := &item.Clauses[len(item.Clauses)-1]
				last.Values = append(last.Values, vals...)
				continue
			}
			return Item{}, err
		}
		if ok {
			item.Clauses = append(item.Clauses, cond)
		}
	}
	return item, nil
}

// parseClause returns ok=false for clauses that carry no constraint, such
// as "invoiced by Carrier".
func parseClause(text string) (Condition, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Condition{}, false, nil
	}

	var cond Condition
	if allItemsSuffix.MatchString(text) {
		cond.AllItems = true
		text = allItemsSuffix.ReplaceAllString(text, "")
	}

	head := text
	if q := firstQuote(text); q >= 0 {
		head = text[:q]
	}
	lowerHead := strings.ToLower(head)

	for _, v := range verbs {
		idx := indexWord(lowerHead, v.phrase)
		if idx < 0 {
			continue
		}
		column := strings.TrimSpace(head[:idx])
		if strings.HasSuffix(strings.ToLower(column), " is") {
			column = strings.TrimSpace(column[:len(column)-3])
		}
		if column == "" {
			return Condition{}, false, fmt.Errorf("%w: missing column in %q", ErrUnparseable, text)
		}
		rest := text[idx+len(v.phrase):]
		values := quotedValues(rest)
		if len(values) == 0 {
			values = bareValues(rest)
		}
		if len(values) == 0 {
			return Condition{}, false, fmt.Errorf("%w: missing value in %q", ErrUnparseable, text)
		}
		cond.Column = column
		cond.Operator = v.op
		cond.Values = values
		return cond, true, nil
	}

	if strings.Contains(strings.ToLower(text), "invoiced by") {
		return Condition{}, false, nil
	}
	return Condition{}, false, fmt.Errorf("%w: %q", ErrUnparseable, text)
}

// splitAnd splits on the word "and" outside quotes.
func splitAnd(text string) []string {
	mask := quoteMask(text)
	lower := strings.ToLower(text)

	var parts []string
	last := 0
	for i := 0; i+5 <= len(text); i++ {
		if mask[i] || lower[i:i+5] != " and " {
			continue
		}
		parts = append(parts, text[last:i])
		last = i + 5
		i += 4
	}
	parts = append(parts, text[last:])
	return parts
}

func quotedValues(s string) []string {
	var out []string
	for _, m := range quotedValue.FindAllStringSubmatch(s, -1) {
		for _, g := range m[1:] {
			if g != "" {
				out = append(out, strings.TrimSpace(g))
				break
			}
		}
	}
	return out
}

func onlyQuoted(s string) bool {
	rest := quotedValue.ReplaceAllString(s, "")
	return strings.Trim(rest, " ,.;") == ""
}

func bareValues(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.Trim(strings.TrimSpace(v), "."); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// indexWord finds phrase in s bounded by spaces or the string ends.
func indexWord(s, phrase string) int {
	from := 0
	for {
		idx := strings.Index(s[from:], phrase)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(phrase)
		leftOK := idx == 0 || s[idx-1] == ' '
		rightOK := end == len(s) || s[end] == ' ' || s[end] == ':'
		if leftOK && rightOK {
			return idx
		}
		from = idx + 1
	}
}

func isQuote(r rune) bool {
	return r == '\'' || r == '"' || r == '‘' || r == '“'
}

func closingQuote(r rune) rune {
	switch r {
	case '‘':
		return '’'
	case '“':
		return '”'
	default:
		return r
	}
}

func firstQuote(s string) int {
	for i, r := range s {
		if isQuote(r) && opensAt(s, i) {
			return i
		}
	}
	return -1
}

// opensAt treats a quote as opening only at a word start so that
// apostrophes ("Carrier's") do not swallow the rest of the text.
func opensAt(s string, i int) bool {
	if i == 0 {
		return true
	}
	switch s[i-1] {
	case ' ', ',', '(', ':', '\t', '\n':
		return true
	}
	return false
}

func closesAt(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	switch s[end] {
	case ' ', ',', '.', ')', ';', '\t', '\n':
		return true
	}
	return false
}

// quoteMask marks every byte that lies inside a quoted value.
func quoteMask(s string) []bool {
	mask := make([]bool, len(s))
	var closer rune
	in := false
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		start := i
		i += size
		if in {
			for k := start; k < i; k++ {
				mask[k] = true
			}
			if r == closer && closesAt(s, i) {
				in = false
			}
			continue
		}
		if isQuote(r) && opensAt(s, start) {
			in = true
			closer = closingQuote(r)
			for k := start; k < i; k++ {
				mask[k] = true
			}
		}
	}
	return mask
}
