package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/auction-intake/internal/formats"
	"github.com/sells-group/auction-intake/internal/model"
)

// fieldRule is a built-in rule merged with any learned rule for the field.
type fieldRule struct {
	key      string
	ruleType string
	labels   []string
	excludes []string
	pattern  *regexp.Regexp
	learned  bool
}

// match is a located field value.
type match struct {
	value  string
	label  string
	line   int
	column int
}

// columnGap separates side-by-side columns in layout-preserving text.
var columnGap = regexp.MustCompile(`\s{2,}`)

// segment is a run of text on one line bounded by column gaps.
type segment struct {
	text  string
	start int
}

func segments(line string) []segment {
	var out []segment
	pos := 0
	for _, gap := range columnGap.FindAllStringIndex(line, -1) {
		if s := strings.TrimSpace(line[pos:gap[0]]); s != "" {
			out = append(out, segment{text: s, start: pos + strings.Index(line[pos:gap[0]], s)})
		}
		pos = gap[1]
	}
	if s := strings.TrimSpace(line[pos:]); s != "" {
		out = append(out, segment{text: s, start: pos + strings.Index(line[pos:], s)})
	}
	return out
}

// mergeRule overlays a learned rule on a built-in one. Learned labels are
// tried first; learned excludes are added; the learned rule type wins only
// when its confidence reaches minOverride.
func mergeRule(key string, builtin *formats.FieldRule, learned *model.RuleSummary, minOverride float64) fieldRule {
	r := fieldRule{key: key}
	if builtin != nil {
		r.ruleType = builtin.RuleType
		if builtin.Pattern != "" {
			r.pattern = regexp.MustCompile(builtin.Pattern)
		}
	}
	if learned != nil {
		r.learned = true
		r.labels = appendUnique(r.labels, learned.LabelPatterns...)
		if r.ruleType == "" || (learned.RuleType != "" && learned.Confidence >= minOverride) {
			r.ruleType = learned.RuleType
		}
	}
	if builtin != nil {
		r.labels = appendUnique(r.labels, builtin.Labels...)
		r.excludes = appendUnique(r.excludes, builtin.Excludes...)
	}
	if learned != nil {
		r.excludes = appendUnique(r.excludes, learned.ExcludePatterns...)
	}
	if r.ruleType == "" {
		r.ruleType = model.RuleTypeLabelBelow
	}
	return r
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if strings.EqualFold(d, v) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func (r fieldRule) excluded(value string) bool {
	lv := strings.ToLower(value)
	for _, e := range r.excludes {
		if strings.Contains(lv, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

// find applies the rule to the document lines. blockLines > 1 collects a
// multi-line block below a label (used for addresses).
func (r fieldRule) find(lines []string, blockLines int) (match, bool) {
	if r.ruleType == model.RuleTypeRegex && r.pattern != nil {
		for i, line := range lines {
			for _, m := range r.pattern.FindAllStringSubmatchIndex(line, -1) {
				start, end := m[0], m[1]
				if len(m) >= 4 && m[2] >= 0 {
					start, end = m[2], m[3]
				}
				v := strings.TrimSpace(line[start:end])
				if v != "" && !r.excluded(v) {
					return match{value: v, line: i, column: start}, true
				}
			}
		}
		return match{}, false
	}

	for _, label := range r.labels {
		re := formats.PhraseRegexp(label)
		if re == nil {
			continue
		}
		for i, line := range lines {
			loc := re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			var m match
			var ok bool
			switch r.ruleType {
			case model.RuleTypeLabelInline:
				m, ok = inlineValue(line, loc)
			default:
				m, ok = belowValue(lines, i, loc[0], blockLines)
			}
			if ok && !r.excluded(m.value) {
				m.label = label
				if r.ruleType == model.RuleTypeLabelInline {
					m.line = i
				}
				return m, true
			}
		}
	}
	return match{}, false
}

func inlineValue(line string, loc []int) (match, bool) {
	rest := line[loc[1]:]
	trimmed := strings.TrimLeft(rest, " \t:#.-")
	offset := loc[1] + len(rest) - len(trimmed)
	if gap := columnGap.FindStringIndex(trimmed); gap != nil {
		trimmed = trimmed[:gap[0]]
	}
	v := strings.TrimSpace(trimmed)
	if v == "" {
		return match{}, false
	}
	return match{value: v, column: offset}, true
}

// belowValue takes the segment under the label's column on the following
// non-empty lines, stopping at a blank line.
func belowValue(lines []string, labelLine, column, blockLines int) (match, bool) {
	var parts []string
	first := -1
	for j := labelLine + 1; j < len(lines) && len(parts) < blockLines; j++ {
		if strings.TrimSpace(lines[j]) == "" {
			if len(parts) > 0 {
				break
			}
			continue
		}
		seg := pickSegment(segments(lines[j]), column)
		if first < 0 {
			first = j
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return match{}, false
	}
	return match{value: strings.Join(parts, "\n"), line: first, column: column}, true
}

func pickSegment(segs []segment, column int) string {
	best := segs[0]
	bestDist := -1
	for _, s := range segs {
		d := s.start - column
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = s, d
		}
	}
	return best.text
}
