// Package diff describes how one destination entry changes to match its
// source, using content defined chunks so unchanged runs of a file are
// copied from the destination instead of transferred.
package diff

import (
	"fmt"
	"io"

	"github.com/bobg/hashsplit"

	"github.com/yuya-takeyama/strict-backup/internal/checksum"
	"github.com/yuya-takeyama/strict-backup/pkg/entry"
)

const (
	minChunkSize = 1024
	splitBits    = 13
)

// PartSize bounds the delta one record carries. Larger deltas travel as
// several records of the same index, see Record.Split.
const PartSize = 4 << 20

// opOverhead approximates the encoding of a delta op besides its data.
const opOverhead = 32

// Chunk is one content defined piece of a basis file.
type Chunk struct {
	Offset int64  `json:"off"`
	Length int64  `json:"len"`
	Hash   string `json:"hash"`
}

// Signature summarizes a destination entry. Regular files carry their
// digest and chunk list.
type Signature struct {
	Entry  entry.Entry `json:"entry"`
	Hash   string      `json:"hash,omitempty"`
	Chunks []Chunk     `json:"chunks,omitempty"`
}

// Op is the kind of a record.
type Op string

const (
	// Create makes the entry from scratch, replacing anything in the way.
	Create Op = "create"
	// Update rewrites a regular file's content from its delta.
	Update Op = "update"
	// Delete removes the entry and anything below it.
	Delete Op = "delete"
	// Attrs only changes metadata.
	Attrs Op = "attrs"
)

// DeltaOp either copies Length bytes at Offset from the basis, or writes
// Data.
type DeltaOp struct {
	Offset int64  `json:"off,omitempty"`
	Length int64  `json:"len,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

func (op DeltaOp) IsCopy() bool {
	return op.Data == nil
}

// Record is the change for one entry. Hash is the digest of the resulting
// content for records that carry a delta. More marks a part whose delta
// continues in the next record of the same index; only the last part
// carries Hash.
type Record struct {
	Index entry.Index `json:"index"`
	Op    Op          `json:"op"`
	Entry entry.Entry `json:"entry"`
	Delta []DeltaOp   `json:"delta,omitempty"`
	Hash  string      `json:"hash,omitempty"`
	More  bool        `json:"more,omitempty"`
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s", r.Op, r.Index)
}

// LiteralBytes is how much content the record carries.
func (r Record) LiteralBytes() int64 {
	var n int64
	for _, op := range r.Delta {
		n += int64(len(op.Data))
	}
	return n
}

// DeltaSize approximates how many bytes the delta of r takes on the wire
// before encoding.
func (r Record) DeltaSize() int64 {
	var n int64
	for _, op := range r.Delta {
		n += opOverhead + int64(len(op.Data))
	}
	return n
}

// Split cuts r into parts whose delta stays within limit. Literal data is
// cut wherever needed; copy ops are kept whole. A record within limit is
// returned as is.
func (r Record) Split(limit int64) []Record {
	if limit <= opOverhead || r.DeltaSize() <= limit {
		return []Record{r}
	}

	var parts []Record
	part := func() Record {
		return Record{Index: r.Index, Op: r.Op, Entry: r.Entry, More: true}
	}
	cur := part()
	var size int64
	flush := func() {
		parts = append(parts, cur)
		cur = part()
		size = 0
	}
	for _, op := range r.Delta {
		if op.IsCopy() {
			if size > 0 && size+opOverhead > limit {
				flush()
			}
			cur.Delta = append(cur.Delta, op)
			size += opOverhead
			continue
		}
		data := op.Data
		for len(data) > 0 {
			room := limit - size - opOverhead
			if room <= 0 {
				flush()
				continue
			}
			n := min(int64(len(data)), room)
			cur.Delta = append(cur.Delta, DeltaOp{Data: data[:n]})
			size += opOverhead + n
			data = data[n:]
		}
	}
	cur.More = false
	cur.Hash = r.Hash
	return append(parts, cur)
}

func split(r io.Reader, fn func(chunk []byte) error) error {
	spl := hashsplit.NewSplitter(func(b []byte, level uint) error {
		if len(b) == 0 {
			return nil
		}
		return fn(b)
	})
	spl.MinSize = minChunkSize
	spl.SplitBits = splitBits
	if _, err := io.Copy(spl, r); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	return spl.Close()
}

// Sign chunks the content of e read from r.
func Sign(e entry.Entry, r io.Reader) (Signature, error) {
	sig := Signature{Entry: e}
	if r == nil {
		return sig, nil
	}

	w := checksum.NewWriter(io.Discard)
	var offset int64
	err := split(io.TeeReader(r, w), func(chunk []byte) error {
		sig.Chunks = append(sig.Chunks, Chunk{
			Offset: offset,
			Length: int64(len(chunk)),
			Hash:   checksum.Bytes(chunk),
		})
		offset += int64(len(chunk))
		return nil
	})
	if err != nil {
		return Signature{}, err
	}
	sig.Hash = w.Sum()
	return sig, nil
}

// Delta expresses the content of r in terms of basis. It also returns the
// digest of r.
func Delta(basis Signature, r io.Reader) ([]DeltaOp, string, error) {
	known := make(map[string]Chunk, len(basis.Chunks))
	for _, c := range basis.Chunks {
		if _, ok := known[c.Hash]; !ok {
			known[c.Hash] = c
		}
	}

	w := checksum.NewWriter(io.Discard)
	var ops []DeltaOp
	err := split(io.TeeReader(r, w), func(chunk []byte) error {
		if c, ok := known[checksum.Bytes(chunk)]; ok && c.Length == int64(len(chunk)) {
			ops = appendCopy(ops, c.Offset, c.Length)
			return nil
		}
		ops = appendLiteral(ops, chunk)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return ops, w.Sum(), nil
}

// Literal expresses all of r as literal data.
func Literal(r io.Reader) ([]DeltaOp, string, error) {
	return Delta(Signature{}, r)
}

func appendCopy(ops []DeltaOp, offset, length int64) []DeltaOp {
	if n := len(ops); n > 0 && ops[n-1].IsCopy() && ops[n-1].Offset+ops[n-1].Length == offset {
		ops[n-1].Length += length
		return ops
	}
	return append(ops, DeltaOp{Offset: offset, Length: length})
}

func appendLiteral(ops []DeltaOp, chunk []byte) []DeltaOp {
	if n := len(ops); n > 0 && !ops[n-1].IsCopy() {
		ops[n-1].Data = append(ops[n-1].Data, chunk...)
		return ops
	}
	data := make([]byte, len(chunk))
	copy(data, chunk)
	return append(ops, DeltaOp{Data: data})
}

// Apply writes the content described by ops to w, reading copied ranges
// from basis. basis may be nil when ops are all literal.
func Apply(basis io.ReaderAt, ops []DeltaOp, w io.Writer) (int64, error) {
	var written int64
	for i, op := range ops {
		if !op.IsCopy() {
			n, err := w.Write(op.Data)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("write literal %d: %w", i, err)
			}
			continue
		}
		if basis == nil {
			return written, fmt.Errorf("copy op %d without basis", i)
		}
		n, err := io.Copy(w, io.NewSectionReader(basis, op.Offset, op.Length))
		written += n
		if err != nil {
			return written, fmt.Errorf("copy range %d: %w", i, err)
		}
		if n != op.Length {
			return written, fmt.Errorf("copy range %d: basis too short", i)
		}
	}
	return written, nil
}
