package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// JSONLWriter streams records as JSON Lines through a buffer. It is not safe
// for concurrent use.
type JSONLWriter struct {
	buf *bufio.Writer
	enc *json.Encoder
	f   *os.File // set when the writer owns the file
	n   int
}

// NewJSONLWriter wraps w; Close flushes but leaves w open.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{buf: buf, enc: enc}
}

// CreateJSONL truncates path and returns a writer owning the file.
func CreateJSONL(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewJSONLWriter(f)
	w.f = f
	return w, nil
}

func (w *JSONLWriter) Write(record any) error {
	if w.buf == nil {
		return errWriterClosed
	}
	if err := w.enc.Encode(record); err != nil {
		return fmt.Errorf("record %d: %w", w.n, err)
	}
	w.n++
	return nil
}

// Count is the number of records written so far.
func (w *JSONLWriter) Count() int { return w.n }

func (w *JSONLWriter) Close() error {
	if w.buf == nil {
		return nil
	}
	err := w.buf.Flush()
	w.buf = nil
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var errWriterClosed = errors.New("jsonl writer closed")

func WriteJSONLFile[T any](path string, records []T) error {
	w, err := CreateJSONL(path)
	if err != nil {
		return err
	}
	for i := range records {
		if err := w.Write(&records[i]); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

const maxLineSize = 16 * 1024 * 1024

// ReadJSONL decodes one record per non-empty line.
func ReadJSONL[T any](r io.Reader) ([]T, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []T
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		var rec T
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadJSONLFile reads every record of path.
func ReadJSONLFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := ReadJSONL[T](f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}
