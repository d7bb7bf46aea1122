package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/sells-group/partmaster/internal/record"
)

// sniffBytes is how much of a CSV file is inspected for encoding and delimiter.
const sniffBytes = 64 * 1024

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // 0 = sniff from the first line
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// StreamCSV reads delimited rows and sends them to a channel. The first row
// is sent like any other. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func (l *FileLoader) parseCSV(ctx context.Context, r io.Reader) ([]record.Raw, error) {
	br := bufio.NewReaderSize(r, sniffBytes)
	head, err := br.Peek(sniffBytes)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, eris.Wrap(err, "csv: peek")
	}

	var in io.Reader = br
	if bytes.HasPrefix(head, []byte("\xef\xbb\xbf")) {
		if _, err := br.Discard(3); err != nil {
			return nil, eris.Wrap(err, "csv: skip byte order mark")
		}
		head = head[3:]
	} else if !utf8.Valid(trimPartialRune(head)) {
		enc, err := l.fallbackEncoding()
		if err != nil {
			return nil, err
		}
		in = transform.NewReader(br, enc.NewDecoder())
		head, _ = enc.NewDecoder().Bytes(head)
	}

	rowCh, errCh := StreamCSV(ctx, in, CSVOptions{
		Delimiter:  sniffDelimiter(head),
		LazyQuotes: true,
	})

	var header []string
	var rows [][]string
	for row := range rowCh {
		if header == nil {
			header = row
			continue
		}
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	if header == nil {
		return nil, nil
	}
	return tableToRaws(header, rows), nil
}

func (l *FileLoader) fallbackEncoding() (encoding.Encoding, error) {
	if l.Charset == "" {
		return charmap.Windows1252, nil
	}
	enc, err := htmlindex.Get(l.Charset)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unknown charset %q", l.Charset)
	}
	return enc, nil
}

// trimPartialRune drops a multi-byte sequence cut off by the sniff window.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

// sniffDelimiter picks the most frequent candidate delimiter on the first
// line, ignoring quoted sections. Comma wins ties and the empty case.
func sniffDelimiter(head []byte) rune {
	line := head
	if i := bytes.IndexAny(head, "\r\n"); i >= 0 {
		line = head[:i]
	}
	counts := map[rune]int{}
	quoted := false
	for _, c := range string(line) {
		switch {
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == ',' || c == ';' || c == '\t' || c == '|':
			counts[c]++
		}
	}
	best := ','
	for _, c := range []rune{';', '\t', '|'} {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}
