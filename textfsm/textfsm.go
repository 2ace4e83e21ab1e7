// Package textfsm implements the TextFSM template language used to turn
// semi-formatted CLI output into rows of named values.
//
// A template is a block of Value definitions followed by one or more states.
// Each state holds rules of the form "^regex -> Action". Values are referenced
// in rules as ${NAME}; "$$" is a literal end-of-line anchor.
package textfsm

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Value options
const (
	OptFilldown = "Filldown"
	OptFillup   = "Fillup"
	OptRequired = "Required"
	OptList     = "List"
	OptKey      = "Key"
)

// Line operators
const (
	lineNext     = "Next"
	lineContinue = "Continue"
	lineError    = "Error"
)

// Record operators
const (
	recordNone     = "NoRecord"
	recordRecord   = "Record"
	recordClear    = "Clear"
	recordClearAll = "Clearall"
)

var (
	// ErrTemplate is wrapped by every template syntax error
	ErrTemplate = errors.New("textfsm: invalid template")
	// ErrRuleError is returned when a rule with the Error action matches
	ErrRuleError = errors.New("textfsm: error rule matched")

	valueLineRe = regexp.MustCompile(`^Value\s+(?:([\w,]+)\s+)?(\w+)\s+(\(.*\))\s*$`)
	stateNameRe = regexp.MustCompile(`^\w+$`)
	varRefRe    = regexp.MustCompile(`\$\{(\w+)\}|\$\$`)
	actionStrRe = regexp.MustCompile(`^(?:(Next|Continue)(?:\.(Record|NoRecord|Clear|Clearall))?|(Record|NoRecord|Clear|Clearall))(?:\s+(\w+))?$|^(\w+)$`)
	errorMsgRe  = regexp.MustCompile(`^Error(?:\s+"(.*)")?$`)
)

// Record is one parsed row keyed by value name. List values hold []string,
// all others hold string.
type Record map[string]any

// String returns the value for key as a string. List values are joined with
// a single space.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	default:
		return ""
	}
}

type value struct {
	name    string
	index   int
	pattern string
	options map[string]bool
	current string
	list    []string
}

func (v *value) has(opt string) bool { return v.options[opt] }

func (v *value) assign(s string) {
	if v.has(OptList) {
		v.list = append(v.list, s)
	} else {
		v.current = s
	}
}

// unset is what a rule does to a value whose optional group did not take
// part in the match. List values keep what they collected.
func (v *value) unset() {
	if !v.has(OptList) {
		v.current = ""
	}
}

func (v *value) empty() bool {
	if v.has(OptList) {
		return len(v.list) == 0
	}
	return v.current == ""
}

func (v *value) snapshot() any {
	if v.has(OptList) {
		out := make([]string, len(v.list))
		copy(out, v.list)
		return out
	}
	return v.current
}

func (v *value) clear() {
	if v.has(OptFilldown) {
		return
	}
	v.clearAll()
}

func (v *value) clearAll() {
	v.current = ""
	v.list = nil
}

type rule struct {
	line     int
	regex    *regexp.Regexp
	lineOp   string
	recordOp string
	newState string
	errMsg   string
}

// Template is a compiled TextFSM template. A Template is not safe for
// concurrent use; call Clone or Parse a fresh copy per goroutine.
type Template struct {
	values     []*value
	byName     map[string]*value
	states     map[string][]rule
	stateOrder []string
	source     string
}

// Parse compiles template text
func Parse(text string) (*Template, error) {
	t := &Template{
		byName: map[string]*value{},
		states: map[string][]rule{},
		source: text,
	}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	inValues := true
	var state string
	for sc.Scan() {
		lineNo++
		raw := strings.TrimRight(sc.Text(), " \t\r")
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		if inValues {
			if trimmed == "" {
				if len(t.values) > 0 {
					inValues = false
				}
				continue
			}
			if !strings.HasPrefix(trimmed, "Value ") {
				if len(t.values) == 0 {
					return nil, fmt.Errorf("%w: line %d: expected Value definition", ErrTemplate, lineNo)
				}
				inValues = false
			} else {
				if err := t.parseValue(trimmed, lineNo); err != nil {
					return nil, err
				}
				continue
			}
		}

		if trimmed == "" {
			state = ""
			continue
		}
		if raw[0] != ' ' && raw[0] != '\t' {
			if !stateNameRe.MatchString(trimmed) {
				return nil, fmt.Errorf("%w: line %d: invalid state name %q", ErrTemplate, lineNo, trimmed)
			}
			if _, dup := t.states[trimmed]; dup {
				return nil, fmt.Errorf("%w: line %d: duplicate state %q", ErrTemplate, lineNo, trimmed)
			}
			state = trimmed
			t.states[state] = nil
			t.stateOrder = append(t.stateOrder, state)
			continue
		}
		if state == "" {
			return nil, fmt.Errorf("%w: line %d: rule outside of a state", ErrTemplate, lineNo)
		}
		r, err := t.parseRule(trimmed, lineNo)
		if err != nil {
			return nil, err
		}
		t.states[state] = append(t.states[state], r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, t.validate()
}

// MustParse is like Parse but panics on error. Intended for embedded templates.
func MustParse(text string) *Template {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) parseValue(line string, lineNo int) error {
	m := valueLineRe.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("%w: line %d: malformed Value line", ErrTemplate, lineNo)
	}
	name := m[2]
	if _, dup := t.byName[name]; dup {
		return fmt.Errorf("%w: line %d: duplicate value %q", ErrTemplate, lineNo, name)
	}
	v := &value{name: name, index: len(t.values), options: map[string]bool{}}
	if m[1] != "" {
		for _, opt := range strings.Split(m[1], ",") {
			switch opt {
			case OptFilldown, OptFillup, OptRequired, OptList, OptKey:
				if v.options[opt] {
					return fmt.Errorf("%w: line %d: duplicate option %q", ErrTemplate, lineNo, opt)
				}
				v.options[opt] = true
			default:
				return fmt.Errorf("%w: line %d: unknown option %q", ErrTemplate, lineNo, opt)
			}
		}
	}
	pattern := m[3]
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("%w: line %d: value %s: %v", ErrTemplate, lineNo, name, err)
	}
	// "(\S+)" becomes "(?P<NAME>\S+)" when substituted into rules.
	v.pattern = "(?P<" + name + ">" + pattern[1:]
	t.values = append(t.values, v)
	t.byName[name] = v
	return nil
}

func (t *Template) parseRule(line string, lineNo int) (rule, error) {
	if !strings.HasPrefix(line, "^") {
		return rule{}, fmt.Errorf("%w: line %d: rule must start with ^", ErrTemplate, lineNo)
	}
	match, action := line, ""
	if idx := strings.LastIndex(line, " -> "); idx >= 0 {
		match, action = strings.TrimRight(line[:idx], " \t"), strings.TrimSpace(line[idx+4:])
	}

	var missing string
	expanded := varRefRe.ReplaceAllStringFunc(match, func(ref string) string {
		if ref == "$$" {
			return "$"
		}
		name := ref[2 : len(ref)-1]
		v, ok := t.byName[name]
		if !ok {
			missing = name
			return ref
		}
		return v.pattern
	})
	if missing != "" {
		return rule{}, fmt.Errorf("%w: line %d: unknown value %q", ErrTemplate, lineNo, missing)
	}
	re, err := regexp.Compile(expanded)
	if err != nil {
		return rule{}, fmt.Errorf("%w: line %d: %v", ErrTemplate, lineNo, err)
	}

	r := rule{line: lineNo, regex: re, lineOp: lineNext, recordOp: recordNone}
	if action == "" {
		return r, nil
	}
	if em := errorMsgRe.FindStringSubmatch(action); em != nil {
		r.lineOp = lineError
		r.errMsg = em[1]
		return r, nil
	}
	am := actionStrRe.FindStringSubmatch(action)
	if am == nil {
		return rule{}, fmt.Errorf("%w: line %d: malformed action %q", ErrTemplate, lineNo, action)
	}
	if am[1] != "" {
		r.lineOp = am[1]
	}
	switch {
	case am[2] != "":
		r.recordOp = am[2]
	case am[3] != "":
		r.recordOp = am[3]
	}
	r.newState = am[4]
	if am[5] != "" {
		r.newState = am[5]
	}
	if r.lineOp == lineContinue && r.newState != "" {
		return rule{}, fmt.Errorf("%w: line %d: Continue cannot change state", ErrTemplate, lineNo)
	}
	return r, nil
}

func (t *Template) validate() error {
	if _, ok := t.states["Start"]; !ok {
		return fmt.Errorf("%w: missing Start state", ErrTemplate)
	}
	if rules, ok := t.states["EOF"]; ok && len(rules) > 0 {
		return fmt.Errorf("%w: EOF state must be empty", ErrTemplate)
	}
	for name, rules := range t.states {
		for _, r := range rules {
			if r.newState == "" {
				continue
			}
			if r.newState == "End" || r.newState == "EOF" {
				continue
			}
			if _, ok := t.states[r.newState]; !ok {
				return fmt.Errorf("%w: state %s line %d: unknown target state %q", ErrTemplate, name, r.line, r.newState)
			}
		}
	}
	return nil
}

// Header returns the value names in definition order
func (t *Template) Header() []string {
	out := make([]string, len(t.values))
	for i, v := range t.values {
		out[i] = v.name
	}
	return out
}

// Clone returns an independent copy sharing the compiled rules
func (t *Template) Clone() *Template {
	c := &Template{
		byName:     make(map[string]*value, len(t.values)),
		states:     t.states,
		stateOrder: t.stateOrder,
		source:     t.source,
	}
	for _, v := range t.values {
		nv := &value{name: v.name, index: v.index, pattern: v.pattern, options: v.options}
		c.values = append(c.values, nv)
		c.byName[nv.name] = nv
	}
	return c
}

// ParseText runs the state machine over text and returns one row per record,
// with columns in Header order.
func (t *Template) ParseText(text string) ([][]any, error) {
	for _, v := range t.values {
		v.clearAll()
	}
	var results [][]any
	state := "Start"

	lines := splitLines(text)
	for _, line := range lines {
		next, err := t.checkLine(line, state, &results)
		if err != nil {
			return nil, err
		}
		if next == "End" {
			return results, nil
		}
		if next == "EOF" {
			break
		}
		state = next
	}

	if _, explicitEOF := t.states["EOF"]; !explicitEOF {
		t.appendRecord(&results)
	}
	return results, nil
}

// splitLines breaks text on line endings. A trailing newline does not start
// an extra empty line.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// ParseTextToDicts is ParseText with each row keyed by value name
func (t *Template) ParseTextToDicts(text string) ([]Record, error) {
	rows, err := t.ParseText(text)
	if err != nil {
		return nil, err
	}
	header := t.Header()
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := make(Record, len(header))
		for i, name := range header {
			rec[name] = row[i]
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *Template) checkLine(line, state string, results *[][]any) (string, error) {
	for _, r := range t.states[state] {
		idx := r.regex.FindStringSubmatchIndex(line)
		if idx == nil {
			continue
		}
		for i, name := range r.regex.SubexpNames() {
			v, ok := t.byName[name]
			if name == "" || !ok {
				continue
			}
			if idx[2*i] < 0 {
				v.unset()
				continue
			}
			t.assign(v, line[idx[2*i]:idx[2*i+1]], *results)
		}

		if r.lineOp == lineError {
			if r.errMsg != "" {
				return "", fmt.Errorf("%w: %s (rule line %d, input %q)", ErrRuleError, r.errMsg, r.line, line)
			}
			return "", fmt.Errorf("%w: rule line %d, input %q", ErrRuleError, r.line, line)
		}

		switch r.recordOp {
		case recordRecord:
			t.appendRecord(results)
		case recordClear:
			for _, v := range t.values {
				v.clear()
			}
		case recordClearAll:
			for _, v := range t.values {
				v.clearAll()
			}
		}

		if r.lineOp == lineContinue {
			continue
		}
		if r.newState != "" {
			return r.newState, nil
		}
		return state, nil
	}
	return state, nil
}

// assign stores s in v. A Fillup value also copies s upwards into the rows
// already emitted, stopping at the first row that has the column set.
func (t *Template) assign(v *value, s string, results [][]any) {
	v.assign(s)
	if !v.has(OptFillup) || s == "" {
		return
	}
	for j := len(results) - 1; j >= 0; j-- {
		cell, ok := results[j][v.index].(string)
		if !ok || cell != "" {
			break
		}
		results[j][v.index] = s
	}
}

func (t *Template) appendRecord(results *[][]any) {
	if len(t.values) == 0 {
		return
	}
	row := make([]any, len(t.values))
	allEmpty := true
	for i, v := range t.values {
		if v.has(OptRequired) && v.empty() {
			for _, cv := range t.values {
				cv.clear()
			}
			return
		}
		if !v.empty() {
			allEmpty = false
		}
		row[i] = v.snapshot()
	}
	if allEmpty {
		return
	}

	*results = append(*results, row)
	for _, v := range t.values {
		v.clear()
	}
}
