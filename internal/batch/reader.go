// Package batch reads newline-delimited event JSON for bulk publishing.
package batch

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Shugur-Network/publisher/internal/errors"
	"github.com/Shugur-Network/publisher/internal/event"
	"github.com/willf/bloom"
)

// MaxLineSize bounds one JSON line.
const MaxLineSize = 1 << 20

// Reader yields each distinct event once. Events repeating an earlier id
// are skipped; events without an id are always returned.
type Reader struct {
	scanner *bufio.Scanner
	line    int

	// seen answers "definitely new" cheaply; exact settles the rest.
	seen  *bloom.BloomFilter
	exact map[string]struct{}

	duplicates int
}

// NewReader reads from r. expected sizes the duplicate filter; a rough
// guess is fine.
func NewReader(r io.Reader, expected uint) *Reader {
	if expected == 0 {
		expected = 1024
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader{
		scanner: scanner,
		seen:    bloom.NewWithEstimates(expected, 0.01),
		exact:   make(map[string]struct{}),
	}
}

// Next returns the next distinct event, or io.EOF when the input is done.
// A malformed line stops the reader with an error naming the line.
func (r *Reader) Next() (event.Event, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}

		evt, err := event.Deserialize([]byte(text))
		if err != nil {
			return event.Event{}, errors.Wrap(err, errors.ErrorTypeDecode, "BATCH_LINE_INVALID",
				fmt.Sprintf("line %d", r.line))
		}
		if r.isDuplicate(evt.ID) {
			r.duplicates++
			continue
		}
		return evt, nil
	}
	if err := r.scanner.Err(); err != nil {
		return event.Event{}, errors.Wrap(err, errors.ErrorTypeDecode, "BATCH_READ_FAILED",
			fmt.Sprintf("line %d", r.line+1))
	}
	return event.Event{}, io.EOF
}

func (r *Reader) isDuplicate(id string) bool {
	if id == "" {
		return false
	}
	if r.seen.TestString(id) {
		if _, ok := r.exact[id]; ok {
			return true
		}
	}
	r.seen.AddString(id)
	r.exact[id] = struct{}{}
	return false
}

// Line is the number of lines consumed so far.
func (r *Reader) Line() int { return r.line }

// Duplicates is the number of events skipped for repeating an id.
func (r *Reader) Duplicates() int { return r.duplicates }

// ReadAll drains r and returns every distinct event.
func ReadAll(r io.Reader) ([]event.Event, error) {
	reader := NewReader(r, 0)
	var events []event.Event
	for {
		evt, err := reader.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, evt)
	}
}
