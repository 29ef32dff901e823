package format

import (
	"strings"

	"github.com/leapstack-labs/sqllineage/pkg/token"
)

// Printer accumulates canonical SQL text.
type Printer struct {
	opts   Options
	output strings.Builder
	depth  int // subquery nesting depth
}

func newPrinter(opts Options) *Printer {
	return &Printer{opts: opts}
}

// String returns the formatted output.
func (p *Printer) String() string {
	return p.output.String()
}

func (p *Printer) write(s string) {
	p.output.WriteString(s)
}

func (p *Printer) space() {
	p.output.WriteByte(' ')
}

// kw prints keywords separated by spaces.
func (p *Printer) kw(tokens ...token.TokenType) {
	for i, t := range tokens {
		if i > 0 {
			p.space()
		}
		p.write(t.String())
	}
}

// keyword prints an arbitrary keyword upper-cased.
func (p *Printer) keyword(s string) {
	p.write(strings.ToUpper(s))
}

// formatList prints count items separated by sep.
func (p *Printer) formatList(count int, format func(i int), sep string) {
	for i := 0; i < count; i++ {
		if i > 0 {
			p.write(sep)
		}
		format(i)
	}
}

// ident prints an identifier, quoting it when it would not survive
// re-tokenization as a plain identifier.
func (p *Printer) ident(name string) {
	p.write(Ident(name))
}

// Ident returns name quoted with double quotes when required.
func Ident(name string) string {
	if name == "" {
		return `""`
	}
	plain := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= 0x80:
		case c >= '0' && c <= '9' && i > 0:
		default:
			plain = false
		}
	}
	if plain && token.IsKeyword(token.LookupIdent(strings.ToLower(name))) &&
		!token.IsNonReserved(token.LookupIdent(strings.ToLower(name))) {
		plain = false
	}
	if plain {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// qualified prints a dotted name, quoting each part as needed.
func (p *Printer) qualified(name string) {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		if i > 0 {
			p.write(".")
		}
		p.ident(part)
	}
}
