// internal/gcode/parser.go
package gcode

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
)

// scanner states. Single pass, no lookahead past the next char except
// for the "" escape inside quoted runs.
type scanState int

const (
	stateNormal scanState = iota
	stateInQuotes
	stateInParenComment
	stateInLineComment
)

// Parse builds a Code from one line of input.
//
// Grammar (informal):
//
//	code     := type major (. minor)? ( space+ param )* (comment)?
//	type     := 'G' | 'M' | 'T'
//	param    := letter value
//	value    := qstring | bareword
//	qstring  := '"' ( noquote | '""' )* '"'
//	comment  := ';' ... EOL | '(' ... ')'
//
// Parenthesis comments are treated as plain comments; the firmware
// attaches semantics to them, this daemon deliberately does not.
func Parse(src string, ch channel.Channel) (*Code, error) {
	c := &Code{
		Source:  src,
		Channel: ch,
		Type:    Comment,
	}

	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return c, nil
	}

	// Keyword codes are detected on the whole first word so that a
	// G/M/T letter inside a word ("echo") cannot shadow them.
	if kw, arg, ok := matchKeyword(trimmed); ok {
		c.Type = KeywordCode
		c.Keyword = kw
		c.KeywordArgument = arg
		return c, nil
	}

	var (
		state scanState

		sawType  bool
		majorBuf strings.Builder
		minorBuf strings.Builder
		inMajor  bool
		inMinor  bool

		inParam    bool
		curLetter  byte
		curValue   strings.Builder
		curString  bool
		braceDepth int

		comment    strings.Builder
		hasComment bool
	)

	endNumberChunk := func() error {
		if inMajor {
			inMajor = false
			v, err := strconv.Atoi(majorBuf.String())
			if err != nil {
				return parseErrorf("major number %q is not an integer", majorBuf.String())
			}
			c.Major = &v
		}
		if inMinor {
			inMinor = false
			v, err := strconv.Atoi(minorBuf.String())
			if err != nil {
				return parseErrorf("minor number %q is not an integer", minorBuf.String())
			}
			c.Minor = &v
		}
		return nil
	}

	endParam := func() {
		if !inParam {
			return
		}
		inParam = false
		c.Parameters = append(c.Parameters, Parameter{
			Letter:   curLetter,
			Raw:      curValue.String(),
			IsString: curString,
		})
		curValue.Reset()
		curString = false
	}

	endToken := func() error {
		endParam()
		return endNumberChunk()
	}

	for i := 0; i < len(src); i++ {
		b := src[i]

		switch state {
		case stateInQuotes:
			if b == '"' {
				if i+1 < len(src) && src[i+1] == '"' {
					curValue.WriteByte('"')
					i++
					continue
				}
				state = stateNormal
				endParam()
				continue
			}
			curValue.WriteByte(b)

		case stateInLineComment:
			comment.WriteByte(b)

		case stateInParenComment:
			if b == ')' {
				state = stateNormal
				continue
			}
			comment.WriteByte(b)

		case stateNormal:
			switch {
			case braceDepth > 0:
				// {...} expression values keep everything, spaces
				// included, until the braces balance.
				curValue.WriteByte(b)
				if b == '{' {
					braceDepth++
				} else if b == '}' {
					braceDepth--
				}

			case b == '{':
				if err := endNumberChunk(); err != nil {
					return nil, err
				}
				if !inParam {
					inParam = true
					curLetter = NoLetter
				}
				curValue.WriteByte('{')
				braceDepth = 1

			case b == ';':
				if err := endToken(); err != nil {
					return nil, err
				}
				state = stateInLineComment
				hasComment = true

			case b == '(':
				if err := endToken(); err != nil {
					return nil, err
				}
				state = stateInParenComment
				hasComment = true

			case b == '"':
				if err := endNumberChunk(); err != nil {
					return nil, err
				}
				if !inParam {
					// Bare quoted run: the unnamed parameter.
					inParam = true
					curLetter = NoLetter
				}
				curString = true
				state = stateInQuotes

			case b == ' ' || b == '\t' || b == '\r' || b == '\n':
				if err := endToken(); err != nil {
					return nil, err
				}

			case inMajor:
				if b == '.' {
					if err := endNumberChunk(); err != nil {
						return nil, err
					}
					inMinor = true
					continue
				}
				majorBuf.WriteByte(b)

			case inMinor:
				minorBuf.WriteByte(b)

			case inParam:
				curValue.WriteByte(b)

			case !sawType:
				switch b {
				case 'G', 'g':
					c.Type = GCode
				case 'M', 'm':
					c.Type = MCode
				case 'T', 't':
					c.Type = TCode
				default:
					return nil, parseErrorf("unexpected start of code: %q", rune(b))
				}
				sawType = true
				inMajor = true

			default:
				if !unicode.IsLetter(rune(b)) {
					return nil, parseErrorf("expected parameter letter, got %q", rune(b))
				}
				inParam = true
				curLetter = b
			}
		}
	}

	switch state {
	case stateInQuotes:
		return nil, parseErrorf("unterminated quoted string")
	case stateInParenComment:
		return nil, parseErrorf("unterminated parenthesis comment")
	}
	if braceDepth > 0 {
		return nil, parseErrorf("unterminated curly expression")
	}

	if err := endToken(); err != nil {
		return nil, err
	}

	if sawType && c.Major == nil {
		return nil, parseErrorf("major number is missing")
	}

	if hasComment {
		s := comment.String()
		c.Comment = &s
	}
	return c, nil
}

// matchKeyword checks whether the trimmed line starts with a meta-command
// keyword followed by end-of-line or whitespace.
func matchKeyword(trimmed string) (Keyword, string, bool) {
	word := trimmed
	if idx := strings.IndexAny(trimmed, " \t"); idx >= 0 {
		word = trimmed[:idx]
	}
	kw, ok := keywordNames[word]
	if !ok {
		return KeywordNone, "", false
	}
	return kw, strings.TrimSpace(trimmed[len(word):]), true
}
