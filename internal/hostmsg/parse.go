package hostmsg

import "strings"

// MaxArgs is the most arguments a command line carries after its command
// word.
const MaxArgs = 3

// Line is a command line split into its command word and arguments.
type Line struct {
	Command string
	Args    []string
	// Trailing holds text left over when arity is zero.
	Trailing string
}

// ParseLine splits raw on single spaces into a command word followed by at
// most arity arguments. Empty tokens produced by repeated separators are
// skipped. Once the last argument slot is reached it takes the remainder of
// the line as-is, spaces included:
//
//	ParseLine("attest PIN 0x2C extra tokens", 2).Args == ["PIN", "0x2C extra tokens"]
func ParseLine(raw string, arity int) Line {
	if arity > MaxArgs {
		arity = MaxArgs
	}
	if arity < 0 {
		arity = 0
	}

	rest := strings.TrimRight(raw, " ")
	var l Line
	l.Command, rest = nextToken(rest)

	for len(l.Args) < arity {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if len(l.Args) == arity-1 {
			l.Args = append(l.Args, rest)
			rest = ""
			break
		}
		var tok string
		tok, rest = nextToken(rest)
		l.Args = append(l.Args, tok)
	}
	l.Trailing = strings.TrimLeft(rest, " ")
	return l
}

func nextToken(s string) (tok, rest string) {
	s = strings.TrimLeft(s, " ")
	tok, rest, _ = strings.Cut(s, " ")
	return tok, rest
}

// Response is one parsed outbound line, as seen by host tooling.
type Response struct {
	Ack  bool
	Tag  Tag
	Text string
}

// Terminal reports whether r ends a command.
func (r Response) Terminal() bool {
	return r.Tag == TagSuccess || r.Tag == TagError
}

// ParseResponse recognises a tagged line, ignoring transcript prefixes,
// prompts and carriage returns around it.
func ParseResponse(line string) (Response, bool) {
	line = strings.Trim(line, "\r\n")
	start := strings.IndexByte(line, '%')
	end := strings.LastIndexByte(line, '%')
	if start < 0 || end <= start {
		return Response{}, false
	}
	inner := line[start+1 : end]
	if inner == "ack" {
		return Response{Ack: true}, true
	}
	tag, text, ok := strings.Cut(inner, ": ")
	if !ok || !Tag(tag).valid() {
		return Response{}, false
	}
	return Response{Tag: Tag(tag), Text: text}, true
}
