package record

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

var ErrMalformedRTF = errors.New("malformed rtf")

// Control words whose group content is not part of the visible text.
var rtfDestinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "header": true, "footer": true, "headerl": true,
	"headerr": true, "footerl": true, "footerr": true, "listtable": true,
	"listoverridetable": true, "rsidtbl": true, "generator": true,
	"xmlnstbl": true, "themedata": true, "colorschememapping": true,
	"latentstyles": true, "datastore": true, "mmathPr": true, "object": true,
	"fldinst": true, "filetbl": true, "revtbl": true, "pgdsctbl": true,
}

var rtfSymbols = map[string]string{
	"par": "\n", "line": "\n", "sect": "\n", "row": "\n", "page": "\n",
	"tab": "\t", "cell": "\t",
	"emdash": "—", "endash": "–", "bullet": "•",
	"lquote": "‘", "rquote": "’",
	"ldblquote": "“", "rdblquote": "”",
}

type rtfGroup struct {
	skip bool
	uc   int
}

// DecodeRTF extracts the visible text of an RTF document. Input that is not
// RTF is returned unchanged.
func DecodeRTF(s string) (string, error) {
	if !strings.HasPrefix(strings.TrimLeft(s, " \t\r\n"), `{\rtf`) {
		return s, nil
	}
	var (
		out      strings.Builder
		stack    []rtfGroup
		cur      = rtfGroup{uc: 1}
		pendingU int
	)
	write := func(text string) {
		if !cur.skip {
			out.WriteString(text)
		}
	}
	for i := 0; i < len(s); {
		c := s[i]
		switch c {
		case '{':
			stack = append(stack, cur)
			i++
		case '}':
			if len(stack) == 0 {
				return "", ErrMalformedRTF
			}
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			i++
		case '\r', '\n':
			i++
		case '\\':
			if i+1 >= len(s) {
				return "", ErrMalformedRTF
			}
			n := s[i+1]
			switch {
			case n == '\\' || n == '{' || n == '}':
				if pendingU > 0 {
					pendingU--
				} else {
					write(string(n))
				}
				i += 2
			case n == '*':
				cur.skip = true
				i += 2
			case n == '\'':
				if i+4 > len(s) {
					return "", ErrMalformedRTF
				}
				b, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
				if err != nil {
					return "", ErrMalformedRTF
				}
				if pendingU > 0 {
					pendingU--
				} else {
					write(string(charmap.Windows1252.DecodeByte(byte(b))))
				}
				i += 4
			case n == '\r' || n == '\n':
				write("\n")
				i += 2
			case n == '~':
				write(" ")
				i += 2
			case isASCIILetter(n):
				j := i + 1
				for j < len(s) && isASCIILetter(s[j]) {
					j++
				}
				word := s[i+1 : j]
				k := j
				if k < len(s) && s[k] == '-' {
					k++
				}
				for k < len(s) && s[k] >= '0' && s[k] <= '9' {
					k++
				}
				param, hasParam := 0, false
				if k > j {
					if v, err := strconv.Atoi(s[j:k]); err == nil {
						param, hasParam = v, true
					}
				}
				if k < len(s) && s[k] == ' ' {
					k++
				}
				i = k
				switch {
				case rtfDestinations[word]:
					cur.skip = true
				case word == "uc" && hasParam:
					cur.uc = param
				case word == "u" && hasParam:
					if param < 0 {
						param += 0x10000
					}
					write(string(rune(param)))
					pendingU = cur.uc
				default:
					if sym, ok := rtfSymbols[word]; ok {
						write(sym)
					}
				}
			default:
				// \-, \_ and other control symbols carry no visible text.
				i += 2
			}
		default:
			if pendingU > 0 {
				pendingU--
			} else if !cur.skip {
				out.WriteByte(c)
			}
			i++
		}
	}
	if len(stack) != 0 {
		return "", ErrMalformedRTF
	}
	return out.String(), nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
