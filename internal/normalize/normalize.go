package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Destination column limits.
const (
	MaxSummaryBytes     = 4000
	MaxActionItems      = 500
	MaxPrimaryClass     = 100
	MaxModelVersion     = 50
	DefaultModelVersion = "dictalm-2.0"
)

// sentimentLabels maps the label vocabulary the analytics service emits
// (English and Hebrew) onto the 1..5 numeric scale.
var sentimentLabels = map[string]int{
	"positive": 4,
	"negative": 2,
	"neutral":  3,
	"mixed":    3,
	"unknown":  3,
	"חיובי":    4,
	"שלילי":    2,
	"נייטרלי":  3,
	"מעורב":    3,
}

// Report collects non-fatal diagnostics produced while normalizing one
// result payload. Callers log the issues; they never fail the write.
type Report struct {
	Issues []string
}

func (r *Report) addf(format string, args ...any) {
	if r == nil {
		return
	}
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

// Sentiment reduces a polymorphic sentiment value to the 1..5 scale.
// Objects contribute their "overall" field; labels go through the fixed
// vocabulary; numbers are truncated and clamped; anything else is 3.
func Sentiment(v Value, rep *Report) int {
	switch v.Kind() {
	case KindObject:
		overall, ok := v.Field("overall")
		if !ok {
			return 3
		}
		return Sentiment(overall, rep)
	case KindString:
		label := strings.ToLower(strings.TrimSpace(v.str))
		if label == "" {
			return 3
		}
		if n, ok := sentimentLabels[label]; ok {
			return n
		}
		rep.addf("unknown sentiment label %q", label)
		return 3
	case KindNumber:
		if v.num == 0 {
			return 3
		}
		return clampInt(int(v.num), 1, 5)
	case KindNull:
		return 3
	default:
		rep.addf("sentiment has unexpected shape (kind %d)", v.Kind())
		return 3
	}
}

// Classification resolves the primary label and the full label set from the
// two fields results may carry: a structured "classification" (object with
// primary/all, or a bare scalar) and a flat "classifications" list.
func Classification(classification, classifications Value, rep *Report) (string, []string) {
	var primary string

	if p, ok := classification.Field("primary"); ok && p.Truthy() {
		primary = strings.TrimSpace(p.Stringify())
	} else if items, ok := classifications.Items(); ok && len(items) > 0 {
		primary = firstLabel(items)
	} else if classification.Truthy() {
		primary = strings.TrimSpace(classification.Stringify())
	}
	if primary == "" {
		primary = "unknown"
	}
	primary = Truncate(primary, MaxPrimaryClass)

	var all []string
	seen := map[string]bool{}
	appendLabel := func(v Value) {
		label := strings.TrimSpace(v.Stringify())
		if label == "" || seen[label] {
			return
		}
		seen[label] = true
		all = append(all, label)
	}
	if items, ok := classification.Field("all"); ok {
		if list, ok := items.Items(); ok {
			for _, item := range list {
				appendLabel(item)
			}
		} else if items.Truthy() {
			rep.addf("classification.all is not a list")
		}
	}
	if list, ok := classifications.Items(); ok {
		for _, item := range list {
			appendLabel(item)
		}
	}

	return primary, all
}

// firstLabel returns the first non-blank label in a classification list.
func firstLabel(items []Value) string {
	for _, item := range items {
		if s := strings.TrimSpace(item.Stringify()); s != "" {
			return s
		}
	}
	return ""
}

// Summary extracts the summary text (object "text" field or stringified
// scalar) bounded to the destination column size.
func Summary(v Value) string {
	var text string
	if v.Kind() == KindObject {
		if t, ok := v.Field("text"); ok {
			text = t.Stringify()
		}
	} else if v.Truthy() {
		text = v.Stringify()
	}
	return Truncate(text, MaxSummaryBytes)
}

// Satisfaction reduces customer_satisfaction to 1..5, defaulting to 3.
func Satisfaction(v Value) int {
	switch v.Kind() {
	case KindNumber:
		if v.num == 0 {
			return 3
		}
		return clampInt(int(v.num), 1, 5)
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil || n == 0 {
			return 3
		}
		return clampInt(int(n), 1, 5)
	default:
		return 3
	}
}

// ChurnScore scales churn_confidence (0.0..1.0) to the 0..100 score stored
// in the destination tables, clamped at both ends. Missing means 0.
func ChurnScore(v Value) float64 {
	var conf float64
	switch v.Kind() {
	case KindNumber:
		conf = v.num
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0
		}
		conf = n
	default:
		return 0
	}
	score := conf * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// textFields is the priority order for pulling display text out of a list
// element that arrived as an object. Metadata fields (due_date, priority,
// assignee, ...) are deliberately not extracted.
var textFields = []string{"action", "description", "name", "instructions", "task", "item", "text"}

// Delimited flattens a polymorphic list-ish value to comma-delimited text:
//   - null/empty -> ""
//   - object     -> "key: value" pairs
//   - list       -> per element: objects yield their first non-empty text
//     field, scalars are trimmed; empties and the literal "none" are skipped
//   - string     -> parsed as JSON and recursed when possible, otherwise
//     stripped of bracket/quote characters and re-joined around commas
func Delimited(v Value) string {
	switch v.Kind() {
	case KindNull:
		return ""
	case KindObject:
		parts := make([]string, 0, len(v.keys))
		for _, k := range v.keys {
			f := v.fields[k]
			if !f.Truthy() {
				continue
			}
			parts = append(parts, k+": "+cleanScalar(f.Stringify()))
		}
		return strings.Join(parts, ", ")
	case KindList:
		var parts []string
		for _, item := range v.list {
			text := elementText(item)
			if text == "" || strings.EqualFold(text, "none") {
				continue
			}
			parts = append(parts, text)
		}
		return strings.Join(parts, ", ")
	case KindString:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return ""
		}
		var parsed Value
		if err := json.Unmarshal([]byte(s), &parsed); err == nil && parsed.Kind() != KindString {
			return Delimited(parsed)
		}
		return tidyCommas(cleanScalar(s))
	default:
		return v.Stringify()
	}
}

// ActionItems applies the Delimited law and bounds the result to the
// action-items column, preferring to cut at the last complete item when
// that keeps at least half the text.
func ActionItems(v Value) string {
	return TruncateItems(Delimited(v), MaxActionItems)
}

// elementText extracts the text of one list element: objects contribute
// their first non-empty priority field, everything else its trimmed form.
func elementText(item Value) string {
	if item.Kind() == KindObject {
		for _, field := range textFields {
			f, ok := item.Field(field)
			if !ok || !f.Truthy() {
				continue
			}
			text := strings.TrimSpace(f.Stringify())
			if text != "" && !strings.EqualFold(text, "none") {
				return text
			}
		}
		return ""
	}
	return strings.TrimSpace(cleanScalar(item.Stringify()))
}

// cleanScalar strips the structural characters JSON fragments leak into
// plain text renderings.
func cleanScalar(s string) string {
	replacer := strings.NewReplacer("[", "", "]", "", "{", "", "}", "", `"`, "", "'", "")
	return strings.TrimSpace(replacer.Replace(s))
}

// tidyCommas re-joins comma-separated text, dropping empty segments.
func tidyCommas(s string) string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// Truncate bounds s to max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// TruncateItems bounds delimited text to max bytes, cutting at the last
// item boundary when that keeps at least half of the allowance, and strips
// any dangling separator.
func TruncateItems(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := Truncate(s, max)
	if comma := strings.LastIndex(cut, ","); comma > max/2 {
		cut = cut[:comma]
	}
	return strings.TrimRight(cut, ", ")
}

func clampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
