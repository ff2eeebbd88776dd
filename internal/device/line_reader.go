package device

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/Tharunya07/EMEC-AMS/internal/ams/types"
)

// LineReader simulates a card reader from text lines. "<uid> [credential]"
// places a card on the reader, "-" removes it, blank lines and lines
// starting with '#' are ignored. A placed card answers every Poll until it
// is removed.
type LineReader struct {
	mu      sync.Mutex
	current *types.Scan
	err     error
	done    chan struct{}
}

// NewLineReader starts consuming r in the background.
func NewLineReader(r io.Reader) *LineReader {
	lr := &LineReader{done: make(chan struct{})}
	go lr.consume(r)
	return lr
}

func (lr *LineReader) consume(r io.Reader) {
	defer close(lr.done)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lr.apply(sc.Text())
	}
	if err := sc.Err(); err != nil {
		lr.mu.Lock()
		lr.err = err
		lr.mu.Unlock()
	}
}

func (lr *LineReader) apply(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()

	if line == "-" {
		lr.current = nil
		return
	}
	fields := strings.Fields(line)
	scan := types.Scan{DeviceUID: strings.ToUpper(fields[0])}
	if len(fields) > 1 {
		scan.CredentialID = fields[1]
	}
	lr.current = &scan
}

// Place and Remove drive the reader directly.
func (lr *LineReader) Place(deviceUID, credentialID string) {
	lr.apply(deviceUID + " " + credentialID)
}

func (lr *LineReader) Remove() { lr.apply("-") }

// Done is closed once the input is exhausted.
func (lr *LineReader) Done() <-chan struct{} { return lr.done }

func (lr *LineReader) Poll(ctx context.Context) (types.Scan, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Scan{}, false, err
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if lr.err != nil {
		err := lr.err
		lr.err = nil
		return types.Scan{}, false, err
	}
	if lr.current == nil {
		return types.Scan{}, false, nil
	}
	return *lr.current, true, nil
}
