package parser

import (
	"strings"

	"github.com/sqlited/sqlited/internal/srverr"
)

// scanner is a small cursor over one statement's source text (a slice of
// the overall input), used by the per-command recognizers. It tracks the
// absolute byte offset of its window so parse errors can report the exact
// position in the original input, per spec.md §4.1.
type scanner struct {
	src        string // the statement's own text
	pos        int    // offset within src
	base       int    // absolute offset of src[0] in the original input
	sawComment bool   // set once skipSpaceAndComments consumes a comment
}

func newScanner(src string, base int) *scanner {
	return &scanner{src: src, pos: 0, base: base}
}

func (s *scanner) errAt(off int, format string, args ...interface{}) *srverr.Error {
	return srverr.ParseErrorAt(s.base+off, format, args...)
}

func (s *scanner) eof() bool { return s.pos >= len(s.src) }

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

// skipSpaceAndComments advances past whitespace, line comments, and
// (possibly nested) block comments. It returns an error if a block
// comment never closes.
func (s *scanner) skipSpaceAndComments() error {
	for !s.eof() {
		c := s.src[s.pos]
		switch {
		case isSpace(c):
			s.pos++
		case c == '-' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '-':
			s.sawComment = true
			nl := strings.IndexByte(s.src[s.pos:], '\n')
			if nl < 0 {
				s.pos = len(s.src)
			} else {
				s.pos += nl + 1
			}
		case c == '/' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '*':
			s.sawComment = true
			start := s.pos
			depth := 1
			s.pos += 2
			for depth > 0 {
				if s.pos >= len(s.src) {
					return s.errAt(start, "unterminated block comment")
				}
				if s.pos+1 < len(s.src) && s.src[s.pos] == '/' && s.src[s.pos+1] == '*' {
					depth++
					s.pos += 2
					continue
				}
				if s.pos+1 < len(s.src) && s.src[s.pos] == '*' && s.src[s.pos+1] == '/' {
					depth--
					s.pos += 2
					continue
				}
				s.pos++
			}
		default:
			return nil
		}
	}
	return nil
}

// skipString consumes a single- or double-quoted string literal starting
// at s.pos (which must point at the opening quote), honoring the doubled-
// quote escape. Returns the literal's raw text including quotes.
func (s *scanner) skipString() (string, error) {
	quote := s.src[s.pos]
	start := s.pos
	s.pos++
	for {
		if s.pos >= len(s.src) {
			return "", s.errAt(start, "unterminated string literal")
		}
		c := s.src[s.pos]
		if c == quote {
			if s.pos+1 < len(s.src) && s.src[s.pos+1] == quote {
				s.pos += 2
				continue
			}
			s.pos++
			return s.src[start:s.pos], nil
		}
		s.pos++
	}
}

// peekKeyword reports whether the identifier at the current position
// (case-insensitively) equals kw and is followed by a non-identifier
// character (or EOF) -- the "keyword fusion" guard from spec.md §4.1.
func (s *scanner) peekKeyword(kw string) bool {
	if s.pos+len(kw) > len(s.src) {
		return false
	}
	if !strings.EqualFold(s.src[s.pos:s.pos+len(kw)], kw) {
		return false
	}
	end := s.pos + len(kw)
	if end < len(s.src) && isIdentPart(s.src[end]) {
		return false
	}
	return true
}

// consumeKeyword consumes kw (per peekKeyword's rules) and any trailing
// space/comments, returning true if it matched.
func (s *scanner) consumeKeyword(kw string) bool {
	if !s.peekKeyword(kw) {
		return false
	}
	s.pos += len(kw)
	_ = s.skipSpaceAndComments()
	return true
}

// tryKeywords consumes the first of several alternatives that matches.
func (s *scanner) tryKeywords(kws ...string) string {
	for _, kw := range kws {
		if s.consumeKeyword(kw) {
			return kw
		}
	}
	return ""
}

// readIdent reads a bare, single-quoted, or double-quoted identifier.
func (s *scanner) readIdent() (string, error) {
	if s.eof() {
		return "", s.errAt(s.pos, "expected identifier")
	}
	c := s.src[s.pos]
	if c == '\'' || c == '"' {
		lit, err := s.skipString()
		if err != nil {
			return "", err
		}
		_ = s.skipSpaceAndComments()
		return unquote(lit), nil
	}
	if !isIdentStart(c) {
		return "", s.errAt(s.pos, "expected identifier")
	}
	start := s.pos
	for !s.eof() && isIdentPart(s.src[s.pos]) {
		s.pos++
	}
	ident := s.src[start:s.pos]
	_ = s.skipSpaceAndComments()
	return ident, nil
}

func unquote(lit string) string {
	if len(lit) < 2 {
		return lit
	}
	quote := lit[0]
	inner := lit[1 : len(lit)-1]
	doubled := string(quote) + string(quote)
	return strings.ReplaceAll(inner, doubled, string(quote))
}

// readUserAtHost reads the `'user'@'host'` shape used by CREATE/ALTER/DROP
// USER and GRANT/REVOKE. An unmatched '@' (an '@' with no trailing host
// token) is a parse error per spec.md §4.1.
func (s *scanner) readUserAtHost() (user, host string, err error) {
	user, err = s.readIdent()
	if err != nil {
		return "", "", err
	}
	if s.eof() || s.src[s.pos] != '@' {
		return "", "", s.errAt(s.pos, "expected '@' in user reference")
	}
	s.pos++
	if s.eof() {
		return "", "", s.errAt(s.pos, "unmatched '@' in user reference")
	}
	host, err = s.readIdent()
	if err != nil {
		return "", "", s.errAt(s.pos, "unmatched '@' in user reference")
	}
	return user, host, nil
}

// rest returns the remaining, unconsumed text of the statement (used for
// opaque bodies and verbatim tails like RETURNING's column list).
func (s *scanner) rest() string { return s.src[s.pos:] }

// findTopLevelSemicolon scans text for the first top-level ';' (outside
// strings/comments), returning its index or -1. Also returns an error if
// a string or block comment is left unterminated along the way.
func findTopLevelSemicolon(text string, base int) (int, error) {
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			closed := false
			for j < len(text) {
				if text[j] == quote {
					if j+1 < len(text) && text[j+1] == quote {
						j += 2
						continue
					}
					closed = true
					j++
					break
				}
				j++
			}
			if !closed {
				return -1, srverr.ParseErrorAt(base+i, "unterminated string literal")
			}
			i = j
		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			nl := strings.IndexByte(text[i:], '\n')
			if nl < 0 {
				return -1, nil
			}
			i += nl + 1
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			depth := 1
			start := i
			i += 2
			for depth > 0 {
				if i >= len(text) {
					return -1, srverr.ParseErrorAt(base+start, "unterminated block comment")
				}
				if i+1 < len(text) && text[i] == '/' && text[i+1] == '*' {
					depth++
					i += 2
					continue
				}
				if i+1 < len(text) && text[i] == '*' && text[i+1] == '/' {
					depth--
					i += 2
					continue
				}
				i++
			}
		case c == ';':
			return i, nil
		default:
			i++
		}
	}
	return -1, nil
}

// findTopLevelKeywordSeq scans text (outside strings/comments) for the
// first occurrence of the given whitespace/comment-separated keyword
// sequence (e.g. []string{"FOR","UPDATE"}) and returns the byte offset it
// starts at, or -1. Used for SELECT ... FOR UPDATE and INSERT ... RETURNING.
func findTopLevelKeywordSeq(text string, kws ...string) int {
	sc := &scanner{src: text}
	for !sc.eof() {
		save := sc.pos
		if idx, ok := matchKeywordSeqAt(sc, kws); ok {
			return idx
		}
		sc.pos = save
		c := sc.src[sc.pos]
		switch {
		case c == '\'' || c == '"':
			if _, err := sc.skipString(); err != nil {
				return -1
			}
		case c == '-' && sc.pos+1 < len(sc.src) && sc.src[sc.pos+1] == '-':
			nl := strings.IndexByte(sc.src[sc.pos:], '\n')
			if nl < 0 {
				return -1
			}
			sc.pos += nl + 1
		case c == '/' && sc.pos+1 < len(sc.src) && sc.src[sc.pos+1] == '*':
			if err := sc.skipSpaceAndComments(); err != nil {
				return -1
			}
		default:
			sc.pos++
		}
	}
	return -1
}

// matchKeywordSeqAt skips leading space/comments, then tries to match kws in
// sequence starting there. On success it returns the offset where the first
// keyword actually begins (after the skip), not the pre-skip position.
func matchKeywordSeqAt(sc *scanner, kws []string) (int, bool) {
	_ = sc.skipSpaceAndComments()
	start := sc.pos
	for _, kw := range kws {
		if !sc.consumeKeyword(kw) {
			return 0, false
		}
	}
	return start, true
}
