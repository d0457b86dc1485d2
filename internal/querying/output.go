package querying

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Output file names.
const (
	OutResults        = "qresults"
	OutQueryEmpty     = "query-empty"
	OutQueryNonEmpty  = "query-non-empty"
	OutNativeEmpty    = "native-empty"
	OutNativeNonEmpty = "native-non-empty"
	OutAnswers        = "answers"
	OutAnswersUnique  = "answers-unique"
)

// Outputs opens named output files lazily from a pattern where "%s" stands
// for the name. With an empty pattern every output is discarded.
type Outputs struct {
	pattern string
	mu      sync.Mutex
	files   map[string]*outputFile
}

type outputFile struct {
	f *os.File
	w *bufio.Writer
}

func NewOutputs(pattern string) *Outputs {
	return &Outputs{pattern: pattern, files: make(map[string]*outputFile)}
}

// Writer returns the writer of output name.
func (o *Outputs) Writer(name string) (io.Writer, error) {
	if o.pattern == "" {
		return io.Discard, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if of, ok := o.files[name]; ok {
		return of.w, nil
	}
	path := strings.ReplaceAll(o.pattern, "%s", name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output %s: %w", name, err)
	}
	of := &outputFile{f: f, w: bufio.NewWriter(f)}
	o.files[name] = of
	return of.w, nil
}

// Close flushes and closes every opened output.
func (o *Outputs) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for name, of := range o.files {
		if err := of.w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", name, err))
		}
		if err := of.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		delete(o.files, name)
	}
	return errors.Join(errs...)
}
