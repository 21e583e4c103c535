package main

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type OpKind byte

const (
	OpAlloc   OpKind = 'a'
	OpFree    OpKind = 'f'
	OpRealloc OpKind = 'r'
)

func (k OpKind) String() string {
	switch k {
	case OpAlloc:
		return "alloc"
	case OpFree:
		return "free"
	case OpRealloc:
		return "realloc"
	default:
		return "unknown"
	}
}

// Op is one request of a trace. Size is unused for OpFree.
type Op struct {
	Kind OpKind
	ID   int
	Size int
}

// Trace is an allocation trace in the classic malloc lab format: four header lines giving the
// suggested heap size, the number of block ids, the number of ops and a weight, followed by one
// op per line.
type Trace struct {
	Name              string
	SuggestedHeapSize int
	IDCount           int
	Weight            int
	Ops               []Op
}

func LoadTrace(path string) (*Trace, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open trace")
	}
	defer file.Close()

	return ParseTrace(path, file)
}

func ParseTrace(name string, r io.Reader) (*Trace, error) {
	// Traces written on Windows may carry a byte order mark
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	scanner := bufio.NewScanner(transform.NewReader(r, decoder))

	trace := &Trace{Name: name}
	var header [4]int
	headerLines := 0
	opCount := 0
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if headerLines < len(header) {
			value, err := strconv.Atoi(line)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: invalid header", name, lineNumber)
			}
			header[headerLines] = value
			headerLines++

			if headerLines == len(header) {
				trace.SuggestedHeapSize = header[0]
				trace.IDCount = header[1]
				opCount = header[2]
				trace.Weight = header[3]

				if trace.IDCount < 0 || opCount < 0 {
					return nil, errors.Newf("%s: header declares %d ids and %d ops", name, trace.IDCount, opCount)
				}
				trace.Ops = make([]Op, 0, opCount)
			}
			continue
		}

		op, err := parseOp(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", name, lineNumber)
		}

		if op.ID >= trace.IDCount {
			return nil, errors.Newf("%s:%d: block id %d is out of range for %d ids", name, lineNumber, op.ID, trace.IDCount)
		}
		trace.Ops = append(trace.Ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", name)
	}

	if headerLines < len(header) {
		return nil, errors.Newf("%s: trace header is incomplete", name)
	}

	if len(trace.Ops) != opCount {
		return nil, errors.Newf("%s: header declares %d ops but the trace contains %d", name, opCount, len(trace.Ops))
	}

	return trace, nil
}

func parseOp(line string) (Op, error) {
	fields := strings.Fields(line)
	if len(fields[0]) != 1 {
		return Op{}, errors.Newf("unknown op %q", fields[0])
	}

	op := Op{Kind: OpKind(fields[0][0])}
	expected := 3
	switch op.Kind {
	case OpAlloc, OpRealloc:
	case OpFree:
		expected = 2
	default:
		return Op{}, errors.Newf("unknown op %q", fields[0])
	}

	if len(fields) != expected {
		return Op{}, errors.Newf("%s op takes %d fields, found %d", op.Kind, expected, len(fields))
	}

	var err error
	op.ID, err = strconv.Atoi(fields[1])
	if err != nil || op.ID < 0 {
		return Op{}, errors.Newf("invalid block id %q", fields[1])
	}

	if expected == 3 {
		op.Size, err = strconv.Atoi(fields[2])
		if err != nil || op.Size < 0 {
			return Op{}, errors.Newf("invalid size %q", fields[2])
		}
	}

	return op, nil
}
