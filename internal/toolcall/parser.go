// Package toolcall extracts structured function calls out of free-form
// upstream text (spec §4.4.b). Vendors that don't natively support OpenAI
// tool-call deltas instead emit a bracket protocol inline in their content:
//
//	[function_calls]
//	[call:NAME]{"arg": "value"}[/call]
//	[/function_calls]
//
// or, for a subset of vendors, an XML dialect. This package turns either
// into domain.ToolCall values plus whatever text is left over once the
// call markup is removed.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ngoclaw/llmgateway/internal/domain"
)

const (
	openEnvelope  = "[function_calls]"
	closeEnvelope = "[/function_calls]"
	closeCall     = "[/call]"
)

var callOpenRe = regexp.MustCompile(`\[call:([A-Za-z0-9_:-]+)\]`)

// Result is the output of Parse: residual text plus any tool calls found.
type Result struct {
	Content   string
	ToolCalls []domain.ToolCall
}

// Parse extracts every [function_calls] envelope from text and returns the
// residual content (with parsed call regions, and emptied envelopes,
// deleted) alongside the structured calls. Parse is deterministic: calling
// Parse again on Result.Content always yields zero further tool calls
// (invariant I4), since every recognized call region is removed on first
// pass.
func Parse(text string) Result {
	var out strings.Builder
	var calls []domain.ToolCall
	cursor := 0

	for {
		rel := strings.Index(text[cursor:], openEnvelope)
		if rel < 0 {
			out.WriteString(text[cursor:])
			break
		}
		blockStart := cursor + rel
		out.WriteString(text[cursor:blockStart])

		bodyStart := blockStart + len(openEnvelope)
		var bodyEnd, afterBlock int
		if relEnd := strings.Index(text[bodyStart:], closeEnvelope); relEnd >= 0 {
			bodyEnd = bodyStart + relEnd
			afterBlock = bodyEnd + len(closeEnvelope)
		} else {
			bodyEnd = len(text)
			afterBlock = len(text)
		}

		body := text[bodyStart:bodyEnd]
		found, residual := parseCalls(body)
		calls = append(calls, found...)
		if strings.TrimSpace(residual) != "" {
			out.WriteString(residual)
		}

		cursor = afterBlock
	}

	content, calls := xmlFallback(out.String(), calls)
	return Result{Content: content, ToolCalls: calls}
}

// parseCalls walks one [function_calls] envelope body and extracts every
// [call:NAME]{...}[/call] entry it can. Text that isn't part of a
// recognized call (including an unterminated trailing call, a streaming
// remnant) is returned as residual.
func parseCalls(body string) ([]domain.ToolCall, string) {
	var out strings.Builder
	var calls []domain.ToolCall
	idx := 0

	for {
		loc := callOpenRe.FindStringSubmatchIndex(body[idx:])
		if loc == nil {
			out.WriteString(body[idx:])
			break
		}
		start := idx + loc[0]
		nameStart, nameEnd := idx+loc[2], idx+loc[3]
		tagEnd := idx + loc[1]
		name := body[nameStart:nameEnd]

		out.WriteString(body[idx:start])

		braceRel := strings.IndexByte(body[tagEnd:], '{')
		if braceRel < 0 {
			// No JSON object yet — streaming remnant, keep verbatim and stop.
			out.WriteString(body[start:])
			idx = len(body)
			break
		}
		braceStart := tagEnd + braceRel

		braceEnd, ok := findBalancedBrace(body, braceStart)
		if !ok {
			// Unterminated object — streaming remnant, keep verbatim and stop.
			out.WriteString(body[start:])
			idx = len(body)
			break
		}

		raw := body[braceStart : braceEnd+1]
		afterObj := braceEnd + 1
		if relClose := strings.Index(body[afterObj:], closeCall); relClose >= 0 {
			afterObj = afterObj + relClose + len(closeCall)
		}

		if args, ok := parseJSONObject(raw); ok {
			calls = append(calls, domain.ToolCall{
				Type:     "function",
				Function: domain.ToolFunction{Name: name, Arguments: compactJSON(args)},
				RawText:  raw,
			})
		} else if args, ok := lastResortExtract(raw); ok {
			calls = append(calls, domain.ToolCall{
				Type:     "function",
				Function: domain.ToolFunction{Name: name, Arguments: compactJSON(args)},
				RawText:  raw,
			})
		}
		// All JSON strategies failed and no last-resort shape matched: the
		// call is silently dropped, matching spec §4.4.b step 3.

		idx = afterObj
	}

	return calls, out.String()
}

// findBalancedBrace returns the index of the '}' that closes the '{' at
// start, honoring quoted string literals with backslash escapes.
func findBalancedBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return -1, false
}

// parseJSONObject attempts the straight parse, then the four fallback
// repair strategies from spec §4.4.b step 2, in order, returning the first
// that parses.
func parseJSONObject(raw string) (map[string]interface{}, bool) {
	if m, ok := tryUnmarshal(raw); ok {
		return m, true
	}
	for _, repair := range []func(string) string{
		escapeControlCharsInStrings,
		stripWhitespaceOutsideStrings,
		quoteUnquotedKeys,
		singleToDoubleQuotes,
	} {
		if m, ok := tryUnmarshal(repair(raw)); ok {
			return m, true
		}
	}
	return nil, false
}

func tryUnmarshal(s string) (map[string]interface{}, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

// compactJSON renders args as a compact (whitespace-normalized) JSON string.
func compactJSON(args map[string]interface{}) string {
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// --- Fallback repair strategies (spec §4.4.b step 2) ---

// escapeControlCharsInStrings escapes raw \n \r \t that appear inside JSON
// string literals, which upstream text generators sometimes emit
// unescaped.
func escapeControlCharsInStrings(s string) string {
	var out strings.Builder
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				out.WriteByte(c)
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
				out.WriteByte(c)
			case '"':
				inString = false
				out.WriteByte(c)
			case '\n':
				out.WriteString(`\n`)
			case '\r':
				out.WriteString(`\r`)
			case '\t':
				out.WriteString(`\t`)
			default:
				out.WriteByte(c)
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		out.WriteByte(c)
	}
	return out.String()
}

// stripWhitespaceOutsideStrings removes whitespace that sits outside any
// string literal; JSON's structural characters never depend on it.
func stripWhitespaceOutsideStrings(s string) string {
	var out strings.Builder
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}

var unquotedKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)

// quoteUnquotedKeys wraps bare object keys in double quotes.
func quoteUnquotedKeys(s string) string {
	return unquotedKeyRe.ReplaceAllString(s, `$1"$2"$3`)
}

// singleToDoubleQuotes swaps single quotes for double quotes wholesale.
// Lossy by construction — it is the last of the four repair strategies and
// only used when the others failed.
func singleToDoubleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `"`)
}

// --- Last-resort regex extraction for known tool shapes (spec §4.4.b step 3) ---

var (
	filePathContentRe = regexp.MustCompile(`(?s)"filePath"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"content"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	filePathEditRe    = regexp.MustCompile(`(?s)"filePath"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"old_str"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"new_str"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// lastResortExtract recognizes the two known tool shapes that survive even
// when every generic JSON repair strategy fails, interpreting \n and \"
// escapes literally.
func lastResortExtract(raw string) (map[string]interface{}, bool) {
	if m := filePathEditRe.FindStringSubmatch(raw); m != nil {
		return map[string]interface{}{
			"filePath": unescapeLiteral(m[1]),
			"old_str":  unescapeLiteral(m[2]),
			"new_str":  unescapeLiteral(m[3]),
		}, true
	}
	if m := filePathContentRe.FindStringSubmatch(raw); m != nil {
		return map[string]interface{}{
			"filePath": unescapeLiteral(m[1]),
			"content":  unescapeLiteral(m[2]),
		}, true
	}
	return nil, false
}

func unescapeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\"`, `"`)
	return s
}

// --- XML dialect fallback ---

// Two structural variants are recognized: a single "arguments" parameter
// carrying a whole JSON object, and one <parameter name="X"> per argument.
var (
	xmlToolUseRe  = regexp.MustCompile(`(?s)<tool_use>\s*<name>(.*?)</name>(.*?)</tool_use>`)
	xmlArgsParamRe = regexp.MustCompile(`(?s)<parameter name="arguments">(.*?)</parameter>`)
	xmlNamedParamRe = regexp.MustCompile(`(?s)<parameter name="([^"]+)">(.*?)</parameter>`)
)

// xmlFallback recognizes <tool_use> blocks in content that the bracket
// protocol left untouched (vendors that emit XML instead), appends any
// calls found to calls, and returns the content with those blocks removed.
func xmlFallback(content string, calls []domain.ToolCall) (string, []domain.ToolCall) {
	if !strings.Contains(content, "<tool_use>") {
		return content, calls
	}
	out := xmlToolUseRe.ReplaceAllStringFunc(content, func(block string) string {
		m := xmlToolUseRe.FindStringSubmatch(block)
		if m == nil {
			return block
		}
		name := strings.TrimSpace(m[1])
		paramsXML := m[2]

		var args map[string]interface{}
		if am := xmlArgsParamRe.FindStringSubmatch(paramsXML); am != nil {
			var parsed map[string]interface{}
			if json.Unmarshal([]byte(strings.TrimSpace(am[1])), &parsed) == nil {
				args = parsed
			}
		}
		if args == nil {
			named := xmlNamedParamRe.FindAllStringSubmatch(paramsXML, -1)
			if len(named) > 0 {
				args = make(map[string]interface{}, len(named))
				for _, nm := range named {
					args[nm[1]] = strings.TrimSpace(nm[2])
				}
			}
		}
		if args == nil {
			args = map[string]interface{}{}
		}

		calls = append(calls, domain.ToolCall{
			Type:     "function",
			Function: domain.ToolFunction{Name: name, Arguments: compactJSON(args)},
			RawText:  block,
		})
		return ""
	})
	return out, calls
}
