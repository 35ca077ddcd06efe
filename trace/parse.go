// Package trace reads allocator workload traces and replays them against an implicit.Heap.
//
// A trace is four header numbers followed by one operation per line:
//
//	<suggested heap size>
//	<id count>
//	<op count>
//	<weight>
//	a <id> <bytes>
//	r <id> <bytes>
//	f <id>
//
// Ids name a single live allocation at a time and must be below the id count.
package trace

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	pkgerrors "github.com/pkg/errors"
)

// ErrMalformed marks errors returned by Parse for input that is not a valid trace
var ErrMalformed error = pkgerrors.New("malformed trace")

// OpType identifies the heap operation a trace line performs
type OpType byte

const (
	OpAllocate   OpType = 'a'
	OpReallocate OpType = 'r'
	OpFree       OpType = 'f'
)

var opTypeMapping = map[OpType]string{
	OpAllocate:   "OpAllocate",
	OpReallocate: "OpReallocate",
	OpFree:       "OpFree",
}

func (t OpType) String() string {
	return opTypeMapping[t]
}

// Op is a single trace operation. Size is unused for OpFree.
type Op struct {
	Type OpType
	ID   int
	Size int
}

// Trace is a parsed workload
type Trace struct {
	SuggestedHeapSize int
	IDCount           int
	Weight            int
	Ops               []Op
}

type lineReader struct {
	scanner *bufio.Scanner
	line    int
}

// next returns the fields of the next non-blank line, or nil at the end of the input
func (r *lineReader) next() ([]string, error) {
	for r.scanner.Scan() {
		r.line++
		fields := strings.Fields(r.scanner.Text())
		if len(fields) > 0 {
			return fields, nil
		}
	}

	return nil, r.scanner.Err()
}

func (r *lineReader) malformed(format string, args ...any) error {
	return errors.Mark(errors.Newf("line %d: "+format, append([]any{r.line}, args...)...), ErrMalformed)
}

func (r *lineReader) header(name string) (int, error) {
	fields, err := r.next()
	if err != nil {
		return 0, err
	}
	if fields == nil {
		return 0, r.malformed("unexpected end of trace reading the %s", name)
	}
	if len(fields) != 1 {
		return 0, r.malformed("expected the %s alone on a line, got %q", name, strings.Join(fields, " "))
	}

	value, err := strconv.Atoi(fields[0])
	if err != nil || value < 0 {
		return 0, r.malformed("invalid %s %q", name, fields[0])
	}
	return value, nil
}

func (r *lineReader) number(field, name string) (int, error) {
	value, err := strconv.Atoi(field)
	if err != nil || value < 0 {
		return 0, r.malformed("invalid %s %q", name, field)
	}
	return value, nil
}

// Parse reads a complete trace. The number of operations must match the op count in the header.
func Parse(reader io.Reader) (*Trace, error) {
	r := &lineReader{scanner: bufio.NewScanner(reader)}

	var trace Trace
	var opCount int
	var err error

	if trace.SuggestedHeapSize, err = r.header("suggested heap size"); err != nil {
		return nil, err
	}
	if trace.IDCount, err = r.header("id count"); err != nil {
		return nil, err
	}
	if opCount, err = r.header("op count"); err != nil {
		return nil, err
	}
	if trace.Weight, err = r.header("weight"); err != nil {
		return nil, err
	}

	trace.Ops = make([]Op, 0, opCount)
	for {
		fields, err := r.next()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read trace")
		}
		if fields == nil {
			break
		}

		op, err := r.op(fields, trace.IDCount)
		if err != nil {
			return nil, err
		}
		trace.Ops = append(trace.Ops, op)
	}

	if len(trace.Ops) != opCount {
		return nil, r.malformed("header declares %d operations, but the trace has %d", opCount, len(trace.Ops))
	}

	return &trace, nil
}

func (r *lineReader) op(fields []string, idCount int) (Op, error) {
	var op Op
	if len(fields[0]) != 1 {
		return op, r.malformed("unknown operation %q", fields[0])
	}

	op.Type = OpType(fields[0][0])
	expectedFields := 3
	switch op.Type {
	case OpAllocate, OpReallocate:
	case OpFree:
		expectedFields = 2
	default:
		return op, r.malformed("unknown operation %q", fields[0])
	}

	if len(fields) != expectedFields {
		return op, r.malformed("%s takes %d arguments, got %d", op.Type, expectedFields-1, len(fields)-1)
	}

	var err error
	op.ID, err = r.number(fields[1], "id")
	if err != nil {
		return op, err
	}
	if op.ID >= idCount {
		return op, r.malformed("id %d is outside the declared id count %d", op.ID, idCount)
	}

	if expectedFields == 3 {
		op.Size, err = r.number(fields[2], "size")
		if err != nil {
			return op, err
		}
	}

	return op, nil
}
