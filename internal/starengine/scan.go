package starengine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	css "github.com/gorilla/css/scanner"
)

// Parser event types delivered to rule listeners.
const (
	EventStartStylesheet = "startstylesheet"
	EventEndStylesheet   = "endstylesheet"
	EventStartRule       = "startrule"
	EventEndRule         = "endrule"
	EventProperty        = "property"
	EventStartAtRule     = "startatrule"
	EventEndAtRule       = "endatrule"
	EventImport          = "import"
	EventError           = "error"
)

var knownEvents = map[string]bool{
	EventStartStylesheet: true,
	EventEndStylesheet:   true,
	EventStartRule:       true,
	EventEndRule:         true,
	EventProperty:        true,
	EventStartAtRule:     true,
	EventEndAtRule:       true,
	EventImport:          true,
	EventError:           true,
}

// At-rules whose block holds declarations rather than nested rules.
var declarationAtRules = map[string]bool{
	"font-face":           true,
	"page":                true,
	"counter-style":       true,
	"property":            true,
	"font-palette-values": true,
	"viewport":            true,
}

// Event is one parser event. Only the fields relevant to Type are set.
type Event struct {
	Type string
	Line int
	Col  int

	Selectors    []string // startrule, endrule
	Declarations int      // endrule

	Property  string // property: lower-cased, without hack prefix
	Hack      string // property: "*" or "_" prefix, if any
	Value     string // property: without !important
	Important bool   // property

	Name    string // startatrule, endatrule
	Prelude string // startatrule
	URI     string // import
	Message string // error
}

// fields returns the event's attributes as seen by rule code.
func (e Event) fields() map[string]any {
	f := map[string]any{
		"type": e.Type,
		"line": e.Line,
		"col":  e.Col,
	}
	switch e.Type {
	case EventStartRule, EventEndRule:
		f["selectors"] = e.Selectors
		if e.Type == EventEndRule {
			f["declarations"] = e.Declarations
		}
	case EventProperty:
		f["property"] = e.Property
		f["hack"] = e.Hack
		f["value"] = e.Value
		f["important"] = e.Important
	case EventStartAtRule:
		f["name"] = e.Name
		f["prelude"] = e.Prelude
	case EventEndAtRule:
		f["name"] = e.Name
	case EventImport:
		f["uri"] = e.URI
	case EventError:
		f["message"] = e.Message
	}
	return f
}

type blockKind int

const (
	blockRule  blockKind = iota // selector block; holds declarations
	blockGroup                  // at-rule holding nested rules (@media, @supports)
	blockDecls                  // at-rule holding declarations (@font-face)
)

type block struct {
	kind  blockKind
	start Event
	decls int
}

// sheet turns the token stream into parser events. Tokens of the statement
// being read are buffered until a '{', ';' or '}' decides what they are.
type sheet struct {
	toks   []*css.Token
	stack  []*block
	events []Event
}

// Scan splits a style sheet into parser events. It understands rule blocks,
// declarations, comments, strings, url() values and at-rules; it does not
// interpret values. Malformed input produces error events instead of failing.
func Scan(src string) []Event {
	s := &sheet{}
	s.emit(Event{Type: EventStartStylesheet, Line: 1, Col: 1})

	tz := css.New(src)
	var end *css.Token
	for end == nil {
		tok := tz.Next()
		switch tok.Type {
		case css.TokenEOF:
			end = tok
		case css.TokenError:
			s.errorf(tok.Line, tok.Column, "%s", tokenError(tok.Value))
			end = tok
		case css.TokenComment, css.TokenBOM, css.TokenCDO, css.TokenCDC:
		case css.TokenChar:
			switch tok.Value {
			case "{":
				s.open(tok)
			case ";":
				s.statement()
			case "}":
				s.close(tok)
			default:
				s.take(tok)
			}
		default:
			s.take(tok)
		}
	}

	s.statement()
	for len(s.stack) > 0 {
		top := s.stack[len(s.stack)-1]
		s.errorf(top.start.Line, top.start.Col, "Unclosed block")
		s.pop()
	}
	s.emit(Event{Type: EventEndStylesheet, Line: end.Line, Col: end.Column})
	return s.events
}

func tokenError(msg string) string {
	switch {
	case strings.Contains(msg, "quotation"):
		return "Unterminated string"
	case strings.Contains(msg, "comment"):
		return "Unterminated comment"
	}
	return msg
}

func (s *sheet) take(tok *css.Token) {
	if len(s.toks) == 0 && tok.Type == css.TokenS {
		return
	}
	s.toks = append(s.toks, tok)
}

// flush returns the buffered statement tokens.
func (s *sheet) flush() []*css.Token {
	toks := s.toks
	s.toks = nil
	return toks
}

func (s *sheet) top() *block {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

func (s *sheet) emit(e Event) {
	s.events = append(s.events, e)
}

func (s *sheet) errorf(line, col int, format string, args ...any) {
	s.emit(Event{Type: EventError, Line: line, Col: col, Message: fmt.Sprintf(format, args...)})
}

func (s *sheet) open(brace *css.Token) {
	toks := s.flush()
	if len(toks) == 0 {
		s.errorf(brace.Line, brace.Column, "Expected a selector before '{'")
		s.stack = append(s.stack, &block{kind: blockGroup, start: Event{Line: brace.Line, Col: brace.Column}})
		return
	}
	first := toks[0]

	if first.Type == css.TokenAtKeyword {
		name := atName(first)
		start := Event{Type: EventStartAtRule, Line: first.Line, Col: first.Column, Name: name, Prelude: text(toks[1:])}
		kind := blockGroup
		if declarationAtRules[name] {
			kind = blockDecls
		}
		s.emit(start)
		s.stack = append(s.stack, &block{kind: kind, start: start})
		return
	}

	start := Event{Type: EventStartRule, Line: first.Line, Col: first.Column, Selectors: splitSelectors(toks)}
	s.emit(start)
	s.stack = append(s.stack, &block{kind: blockRule, start: start})
}

func (s *sheet) statement() {
	toks := s.flush()
	if len(toks) == 0 {
		return
	}
	first := toks[0]

	if first.Type == css.TokenAtKeyword {
		if atName(first) == "import" {
			s.emit(Event{Type: EventImport, Line: first.Line, Col: first.Column, URI: importURI(toks[1:])})
		}
		return
	}

	top := s.top()
	if top == nil || top.kind == blockGroup {
		s.errorf(first.Line, first.Column, "Unexpected token '%s'", abbreviate(text(toks)))
		return
	}
	s.declaration(top, toks)
}

func (s *sheet) declaration(b *block, toks []*css.Token) {
	first := toks[0]
	colon := -1
	for i, t := range toks {
		if t.Type == css.TokenChar && t.Value == ":" {
			colon = i
			break
		}
	}
	if colon < 0 {
		s.errorf(first.Line, first.Column, "Expected ':' after property '%s'", abbreviate(text(toks)))
		return
	}

	name := text(toks[:colon])
	hack := ""
	if strings.HasPrefix(name, "*") || strings.HasPrefix(name, "_") {
		hack, name = name[:1], strings.TrimSpace(name[1:])
	}
	if name == "" {
		s.errorf(first.Line, first.Column, "Expected a property name")
		return
	}

	value, important := stripImportant(toks[colon+1:])

	b.decls++
	s.emit(Event{
		Type:      EventProperty,
		Line:      first.Line,
		Col:       first.Column,
		Property:  strings.ToLower(name),
		Hack:      hack,
		Value:     text(value),
		Important: important,
	})
}

func (s *sheet) close(brace *css.Token) {
	s.statement()
	if len(s.stack) == 0 {
		s.errorf(brace.Line, brace.Column, "Unexpected '}'")
		return
	}
	s.pop()
}

func (s *sheet) pop() {
	b := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]

	switch b.start.Type {
	case EventStartRule:
		s.emit(Event{
			Type:         EventEndRule,
			Line:         b.start.Line,
			Col:          b.start.Col,
			Selectors:    b.start.Selectors,
			Declarations: b.decls,
		})
	case EventStartAtRule:
		s.emit(Event{Type: EventEndAtRule, Line: b.start.Line, Col: b.start.Col, Name: b.start.Name})
	}
}

// text joins token values and trims surrounding whitespace.
func text(toks []*css.Token) string {
	var sb strings.Builder
	for _, t := range toks {
		sb.WriteString(t.Value)
	}
	return strings.TrimSpace(sb.String())
}

func atName(tok *css.Token) string {
	return strings.ToLower(strings.TrimPrefix(tok.Value, "@"))
}

// stripImportant removes a trailing "! important" from a value.
func stripImportant(toks []*css.Token) ([]*css.Token, bool) {
	i := lastNonSpace(toks, len(toks))
	if i < 0 || toks[i].Type != css.TokenIdent || !strings.EqualFold(toks[i].Value, "important") {
		return toks, false
	}
	bang := lastNonSpace(toks, i)
	if bang < 0 || toks[bang].Type != css.TokenChar || toks[bang].Value != "!" {
		return toks, false
	}
	return toks[:bang], true
}

func lastNonSpace(toks []*css.Token, before int) int {
	for i := before - 1; i >= 0; i-- {
		if toks[i].Type != css.TokenS {
			return i
		}
	}
	return -1
}

func importURI(toks []*css.Token) string {
	for _, t := range toks {
		switch t.Type {
		case css.TokenS:
			continue
		case css.TokenURI:
			uri := strings.TrimSuffix(strings.TrimPrefix(t.Value, "url("), ")")
			return strings.Trim(strings.TrimSpace(uri), `"'`)
		case css.TokenString:
			return strings.Trim(t.Value, `"'`)
		}
		return t.Value
	}
	return ""
}

// splitSelectors splits a selector list on top-level commas and normalizes whitespace.
func splitSelectors(toks []*css.Token) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, t := range toks {
		if t.Type == css.TokenFunction {
			depth++
			continue
		}
		if t.Type != css.TokenChar {
			continue
		}
		switch t.Value {
		case "(", "[":
			depth++
		case ")", "]":
			if depth > 0 {
				depth--
			}
		case ",":
			if depth == 0 {
				out = appendSelector(out, text(toks[start:i]))
				start = i + 1
			}
		}
	}
	return appendSelector(out, text(toks[start:]))
}

func appendSelector(out []string, sel string) []string {
	sel = strings.Join(strings.Fields(sel), " ")
	if sel == "" {
		return out
	}
	return append(out, sel)
}

// abbreviate shortens s to at most 40 runes.
func abbreviate(s string) string {
	const limit = 40
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
