package letter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var ErrInvalidArgument = errors.New("invalid argument")

type Mode string

const (
	ModePlain    Mode = "plain"
	ModeMarkdown Mode = "markdown"
)

// ParseMode accepts the mode names used on the command line and in query
// strings.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePlain:
		return ModePlain, nil
	case ModeMarkdown:
		return ModeMarkdown, nil
	}
	return "", fmt.Errorf("%w: unknown output mode %q", ErrInvalidArgument, s)
}

type Options struct {
	// ApplyFilters strips anonymisation artifacts clinicians should not see.
	ApplyFilters bool
	// IncludeTimestamp prefixes the rendering with the generation time.
	IncludeTimestamp bool
}

// Block is one section prepared for markdown-capable viewers.
type Block struct {
	Header string `json:"header"`
	Body   string `json:"body"`
	HTML   string `json:"html"`
}

type Rendering struct {
	Mode   Mode    `json:"mode"`
	Prefix string  `json:"prefix,omitempty"`
	Text   string  `json:"text,omitempty"`
	Blocks []Block `json:"blocks,omitempty"`
}

// Post-generation text filters, applied in order.
var outputFilters = []struct{ old, new string }{
	{" [LEEFTIJD-1]-jarige", ""},
	{"\n\nBeloop\n", "\n\n"},
}

// ApplyFilters removes placeholder artifacts from generated text.
func ApplyFilters(s string) string {
	for _, f := range outputFilters {
		s = strings.ReplaceAll(s, f.old, f.new)
	}
	return s
}

// TimestampLine is the generation notice placed above a letter.
func TimestampLine(t time.Time) string {
	return "Deze brief is door AI gegenereerd op: " + t.Format("02-01-2006 15:04") + "\n\n\n"
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Format renders a letter either as plain text or as markdown blocks.
func Format(l GeneratedLetter, mode Mode, opts Options) (Rendering, error) {
	out := Rendering{Mode: mode}
	if opts.IncludeTimestamp {
		out.Prefix = TimestampLine(l.GeneratedAt)
	}
	switch mode {
	case ModePlain:
		out.Text = out.Prefix + plainBody(l, opts)
		return out, nil
	case ModeMarkdown:
		out.Blocks = make([]Block, 0, len(l.Sections))
		for _, sec := range l.Sections {
			body := sec.Body
			if opts.ApplyFilters {
				body = ApplyFilters(body)
			}
			var buf bytes.Buffer
			if err := markdown.Convert([]byte(body), &buf); err != nil {
				return Rendering{}, fmt.Errorf("markdown convert %q: %w", sec.Header, err)
			}
			out.Blocks = append(out.Blocks, Block{Header: sec.Header, Body: body, HTML: buf.String()})
		}
		return out, nil
	default:
		return Rendering{}, fmt.Errorf("%w: unknown output mode %q", ErrInvalidArgument, mode)
	}
}

// PlainText is the plain rendering of l without a timestamp prefix.
func PlainText(l GeneratedLetter, opts Options) string {
	return plainBody(l, opts)
}

func plainBody(l GeneratedLetter, opts Options) string {
	var sb strings.Builder
	for _, sec := range l.Sections {
		body := sec.Body
		if opts.ApplyFilters {
			body = ApplyFilters(body)
		}
		sb.WriteString(sec.Header)
		sb.WriteString("\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	return sb.String()
}
