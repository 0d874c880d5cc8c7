package record

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// HiXExport is the envelope of the on-demand HiX export.
type HiXExport struct {
	AllParts []RawRow `json:"ALLPARTS"`
}

// DecodeRows reads an export file of the given kind. HiX and Metavision
// exports are JSON, the demo fixture is a semicolon separated CSV file.
func DecodeRows(r io.Reader, kind SourceKind) ([]RawRow, error) {
	switch kind {
	case SourceHiX:
		return decodeHiX(r)
	case SourceMetavision:
		return decodeJSONRows(r)
	case SourceDemo:
		return decodeCSVRows(r, ';')
	default:
		return nil, unknownSource(kind)
	}
}

func decodeHiX(r io.Reader) ([]RawRow, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err != nil {
		return nil, err
	}
	if first == '[' {
		return decodeJSONRows(br)
	}
	var env HiXExport
	dec := json.NewDecoder(br)
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode hix export: %w", err)
	}
	return env.AllParts, nil
}

func decodeJSONRows(r io.Reader) ([]RawRow, error) {
	var rows []RawRow
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	return rows, nil
}

func decodeCSVRows(r io.Reader, sep rune) ([]RawRow, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err == io.EOF {
		return []RawRow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	var rows []RawRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(RawRow, len(header))
		for i, name := range header {
			if i < len(rec) && rec[i] != "" {
				row[name] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read export: %w", err)
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
