package diff

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ErrMalformed is returned when package-metadata text cannot be parsed.
var ErrMalformed = errors.New("diff: malformed metadata")

// ParseKeyValue parses line-oriented KEY=VALUE text, the format of the
// build-environment and system-packages artifacts. Blank lines and lines
// starting with '#' are skipped.
func ParseKeyValue(text string) (map[string]string, error) {
	result := make(map[string]string)

	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformed, i+1, line)
		}
		result[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return result, nil
}

// ParseSwitchExport parses an opam-style switch export into its package set.
// Only the fields the diff engine needs are retained: name, version, build
// and install command lists, and the source URL. Everything else is skipped
// structurally.
func ParseSwitchExport(text string) ([]Package, error) {
	lx := &lexer{input: text}
	var packages []Package

	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			break
		}

		if tok.kind == tokIdent && tok.text == "package" {
			pkg, err := parsePackage(lx)
			if err != nil {
				return nil, err
			}
			packages = append(packages, pkg)
			continue
		}

		// Top-level fields outside package blocks (opam-version, roots,
		// installed, ...) are skipped structurally.
		if tok.kind == tokIdent {
			if err := skipFieldValue(lx); err != nil {
				return nil, err
			}
			continue
		}

		return nil, fmt.Errorf("%w: unexpected %s at top level", ErrMalformed, tok)
	}

	sort.Slice(packages, func(i, j int) bool { return packages[i].Name < packages[j].Name })
	return packages, nil
}

func parsePackage(lx *lexer) (Package, error) {
	var pkg Package

	tok, err := lx.next()
	if err != nil {
		return pkg, err
	}
	if tok.kind != tokString {
		return pkg, fmt.Errorf("%w: package block without name", ErrMalformed)
	}

	// Block headers carry "name.version"; explicit name:/version: fields
	// inside the block take precedence.
	if name, version, ok := strings.Cut(tok.text, "."); ok {
		pkg.Name, pkg.Version = name, version
	} else {
		pkg.Name = tok.text
	}

	if err := expect(lx, tokLBrace); err != nil {
		return pkg, err
	}

	for {
		tok, err := lx.next()
		if err != nil {
			return pkg, err
		}

		switch tok.kind {
		case tokRBrace:
			return pkg, nil

		case tokIdent:
			switch tok.text {
			case "name":
				if pkg.Name, err = parseStringField(lx); err != nil {
					return pkg, err
				}
			case "version":
				if pkg.Version, err = parseStringField(lx); err != nil {
					return pkg, err
				}
			case "build":
				if pkg.BuildCommands, err = parseCommandList(lx); err != nil {
					return pkg, err
				}
			case "install":
				if pkg.InstallCommands, err = parseCommandList(lx); err != nil {
					return pkg, err
				}
			case "url":
				if pkg.SourceURL, err = parseURLBlock(lx); err != nil {
					return pkg, err
				}
			default:
				if err := skipFieldValue(lx); err != nil {
					return pkg, err
				}
			}

		default:
			return pkg, fmt.Errorf("%w: unexpected %s in package block", ErrMalformed, tok)
		}
	}
}

func parseStringField(lx *lexer) (string, error) {
	if err := expect(lx, tokColon); err != nil {
		return "", err
	}
	tok, err := lx.next()
	if err != nil {
		return "", err
	}
	if tok.kind != tokString {
		return "", fmt.Errorf("%w: expected string, got %s", ErrMalformed, tok)
	}
	return tok.text, nil
}

// parseCommandList parses `: [ ... ]` where each element is either a
// bracketed command (list of strings) or a bare string. A flat list of bare
// strings is one single command.
func parseCommandList(lx *lexer) ([][]string, error) {
	if err := expect(lx, tokColon); err != nil {
		return nil, err
	}
	if err := expect(lx, tokLBracket); err != nil {
		return nil, err
	}

	var commands [][]string
	var flat []string

	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}

		switch tok.kind {
		case tokRBracket:
			if len(flat) > 0 {
				commands = append(commands, flat)
			}
			return commands, nil

		case tokString, tokIdent:
			flat = append(flat, tok.text)

		case tokLBracket:
			var cmd []string
			for {
				inner, err := lx.next()
				if err != nil {
					return nil, err
				}
				if inner.kind == tokRBracket {
					break
				}
				if inner.kind != tokString && inner.kind != tokIdent {
					return nil, fmt.Errorf("%w: unexpected %s in command", ErrMalformed, inner)
				}
				cmd = append(cmd, inner.text)
			}
			commands = append(commands, cmd)

		default:
			return nil, fmt.Errorf("%w: unexpected %s in command list", ErrMalformed, tok)
		}
	}
}

func parseURLBlock(lx *lexer) (string, error) {
	if err := expect(lx, tokLBrace); err != nil {
		return "", err
	}

	src := ""
	for {
		tok, err := lx.next()
		if err != nil {
			return "", err
		}

		switch tok.kind {
		case tokRBrace:
			return src, nil

		case tokIdent:
			if tok.text == "src" || tok.text == "archive" {
				if src, err = parseStringField(lx); err != nil {
					return "", err
				}
			} else if err := skipFieldValue(lx); err != nil {
				return "", err
			}

		default:
			return "", fmt.Errorf("%w: unexpected %s in url block", ErrMalformed, tok)
		}
	}
}

// skipFieldValue consumes `: value` or a `{ ... }` sub-block, where value may
// itself be a string, ident or nested list.
func skipFieldValue(lx *lexer) error {
	tok, err := lx.next()
	if err != nil {
		return err
	}

	switch tok.kind {
	case tokColon:
		return skipValue(lx)
	case tokLBrace:
		return skipUntil(lx, tokLBrace, tokRBrace)
	default:
		return fmt.Errorf("%w: expected ':' or '{', got %s", ErrMalformed, tok)
	}
}

func skipValue(lx *lexer) error {
	tok, err := lx.next()
	if err != nil {
		return err
	}

	switch tok.kind {
	case tokString, tokIdent:
		return nil
	case tokLBracket:
		return skipUntil(lx, tokLBracket, tokRBracket)
	case tokLBrace:
		return skipUntil(lx, tokLBrace, tokRBrace)
	default:
		return fmt.Errorf("%w: unexpected %s as field value", ErrMalformed, tok)
	}
}

func skipUntil(lx *lexer, open, close tokKind) error {
	depth := 1
	for depth > 0 {
		tok, err := lx.next()
		if err != nil {
			return err
		}
		switch tok.kind {
		case tokEOF:
			return fmt.Errorf("%w: unterminated block", ErrMalformed)
		case open:
			depth++
		case close:
			depth--
		}
	}
	return nil
}

func expect(lx *lexer, kind tokKind) error {
	tok, err := lx.next()
	if err != nil {
		return err
	}
	if tok.kind != kind {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformed, kind, tok)
	}
	return nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokString
	tokIdent
	tokColon
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
)

func (k tokKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokString:
		return "string"
	case tokIdent:
		return "identifier"
	case tokColon:
		return "':'"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	default:
		return "unknown token"
	}
}

type token struct {
	kind tokKind
	text string
}

func (t token) String() string {
	if t.text != "" {
		return fmt.Sprintf("%s %q", t.kind, t.text)
	}
	return t.kind.String()
}

type lexer struct {
	input string
	pos   int
}

func (lx *lexer) next() (token, error) {
	// Skip whitespace and comments.
	for lx.pos < len(lx.input) {
		c := lx.input[lx.pos]
		if c == '#' {
			for lx.pos < len(lx.input) && lx.input[lx.pos] != '\n' {
				lx.pos++
			}
			continue
		}
		if !unicode.IsSpace(rune(c)) {
			break
		}
		lx.pos++
	}

	if lx.pos >= len(lx.input) {
		return token{kind: tokEOF}, nil
	}

	switch c := lx.input[lx.pos]; c {
	case ':':
		lx.pos++
		return token{kind: tokColon}, nil
	case '{':
		lx.pos++
		return token{kind: tokLBrace}, nil
	case '}':
		lx.pos++
		return token{kind: tokRBrace}, nil
	case '[':
		lx.pos++
		return token{kind: tokLBracket}, nil
	case ']':
		lx.pos++
		return token{kind: tokRBracket}, nil
	case '"':
		return lx.lexString()
	default:
		return lx.lexIdent()
	}
}

func (lx *lexer) lexString() (token, error) {
	start := lx.pos
	lx.pos++ // opening quote

	var sb strings.Builder
	for lx.pos < len(lx.input) {
		c := lx.input[lx.pos]
		switch c {
		case '\\':
			if lx.pos+1 >= len(lx.input) {
				return token{}, fmt.Errorf("%w: unterminated escape at offset %d", ErrMalformed, lx.pos)
			}
			lx.pos++
			sb.WriteByte(lx.input[lx.pos])
			lx.pos++
		case '"':
			lx.pos++
			return token{kind: tokString, text: sb.String()}, nil
		default:
			sb.WriteByte(c)
			lx.pos++
		}
	}

	return token{}, fmt.Errorf("%w: unterminated string at offset %d", ErrMalformed, start)
}

func (lx *lexer) lexIdent() (token, error) {
	start := lx.pos
	for lx.pos < len(lx.input) {
		c := lx.input[lx.pos]
		if unicode.IsSpace(rune(c)) || strings.ContainsRune(`:{}[]"#`, rune(c)) {
			break
		}
		lx.pos++
	}

	if lx.pos == start {
		return token{}, fmt.Errorf("%w: unexpected character %q at offset %d", ErrMalformed, lx.input[start], start)
	}

	return token{kind: tokIdent, text: lx.input[start:lx.pos]}, nil
}
