package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// maxExactInt is the largest magnitude float64 holds without rounding.
const maxExactInt = 1 << 53

// wire is the JSON projection of a Dataset. Only the record list is
// serialized; the internal row storage never is.
type wire struct {
	Name        string            `json:"name"`
	Columns     []string          `json:"columns,omitempty"`
	DataRecords []json.RawMessage `json:"data_records"`
}

func (d *Dataset) MarshalJSON() ([]byte, error) {
	recs := make([]json.RawMessage, len(d.rows))
	for i, r := range d.rows {
		b, err := marshalOrdered(d.columns, r)
		if err != nil {
			return nil, err
		}
		recs[i] = b
	}
	return json.Marshal(wire{Name: d.name, Columns: d.columns, DataRecords: recs})
}

func (d *Dataset) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("invalid data format; expecting a list of records: %w", err)
	}

	columns := w.Columns
	if len(columns) == 0 {
		seen := map[string]bool{}
		for _, raw := range w.DataRecords {
			keys, err := objectKeys(raw)
			if err != nil {
				return &SchemaError{Dataset: w.Name, Reason: err.Error()}
			}
			for _, k := range keys {
				if !seen[k] {
					seen[k] = true
					columns = append(columns, k)
				}
			}
		}
	}

	rows := make([]Record, len(w.DataRecords))
	for i, raw := range w.DataRecords {
		r, err := decodeRecord(raw)
		if err != nil {
			return &SchemaError{Dataset: w.Name, Row: i, Reason: err.Error()}
		}
		if r == nil {
			return &SchemaError{Dataset: w.Name, Row: i, Reason: "nil record"}
		}
		rows[i] = r
	}

	nd, err := New(w.Name, columns, rows)
	if err != nil {
		return err
	}
	*d = *nd
	return nil
}

// decodeRecord decodes one record without rounding numbers. Integers that
// float64 cannot hold exactly become int64, or stay json.Number beyond int64.
func decodeRecord(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	for k, v := range r {
		if n, ok := v.(json.Number); ok {
			r[k] = number(n)
		}
	}
	return r, nil
}

func number(n json.Number) any {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		if i > maxExactInt || i < -maxExactInt {
			return i
		}
		return float64(i)
	}
	if f, err := n.Float64(); err == nil && !isIntLiteral(n.String()) {
		return f
	}
	return n
}

func isIntLiteral(s string) bool {
	for i, c := range s {
		if (c < '0' || c > '9') && !(i == 0 && c == '-') {
			return false
		}
	}
	return true
}

// objectKeys returns the keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("record is not a JSON object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// marshalOrdered writes a record as a JSON object following the column order.
func marshalOrdered(columns []string, r Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r[c])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
