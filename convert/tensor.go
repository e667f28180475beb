// tensor.go - Tensor-Typ und Kodierung der Tensordaten
//
// Dieses Modul enthaelt:
// - DType: Datentypen mit safetensors-Namen (F32, BF16, ...)
// - Tensor: Name, Typ, Shape und eine Datenquelle
// - rawData: bereits zusammenhaengende Little-Endian Bytes
// - torchData: Sicht (Offset/Stride) auf einen gopickle Storage
// - storageRuns: zerlegt eine Sicht in zusammenhaengende Bereiche
package convert

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"math"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/x448/float16"
)

// DType - Element-Datentyp, benannt wie im safetensors Header
type DType string

// Unterstuetzte Datentypen
const (
	DTypeF64  DType = "F64"
	DTypeF32  DType = "F32"
	DTypeF16  DType = "F16"
	DTypeBF16 DType = "BF16"
	DTypeI64  DType = "I64"
	DTypeI32  DType = "I32"
	DTypeI16  DType = "I16"
	DTypeI8   DType = "I8"
	DTypeU8   DType = "U8"
	DTypeBool DType = "BOOL"
)

// Size gibt die Groesse eines Elements in Bytes zurueck (0 fuer unbekannte Typen)
func (d DType) Size() int {
	switch d {
	case DTypeF64, DTypeI64:
		return 8
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF16, DTypeBF16, DTypeI16:
		return 2
	case DTypeI8, DTypeU8, DTypeBool:
		return 1
	default:
		return 0
	}
}

// runChunk - maximale Elementanzahl pro zusammenhaengendem Bereich
const runChunk = 1 << 16

// Tensor - benannter Tensor mit unveraenderlicher Datenquelle.
// Umbenennen erzeugt eine Kopie, die Daten werden geteilt.
type Tensor struct {
	Name  string
	DType DType
	Shape []int

	data tensorData
}

// tensorData schreibt die Elemente zusammenhaengend in row-major Reihenfolge
type tensorData interface {
	writeTo(w io.Writer, t *Tensor) (int64, error)
}

// NewTensor erstellt einen Tensor aus zusammenhaengenden Little-Endian Bytes
func NewTensor(name string, dtype DType, shape []int, data []byte) (Tensor, error) {
	if dtype.Size() == 0 {
		return Tensor{}, fmt.Errorf("%w: dtype %q", ErrUnexpectedValue, dtype)
	}

	t := Tensor{Name: name, DType: dtype, Shape: slices.Clone(shape), data: rawData(data)}
	if int64(len(data)) != t.Size() {
		return Tensor{}, fmt.Errorf("%w: tensor %q has %d bytes, shape %v needs %d", ErrUnexpectedValue, name, len(data), shape, t.Size())
	}
	return t, nil
}

// NumElements gibt die Anzahl der Elemente zurueck
func (t Tensor) NumElements() int {
	return numElements(t.Shape)
}

// Size gibt die Groesse der zusammenhaengenden Daten in Bytes zurueck
func (t Tensor) Size() int64 {
	return int64(t.NumElements()) * int64(t.DType.Size())
}

// Renamed gibt eine Kopie mit neuem Namen zurueck
func (t Tensor) Renamed(name string) Tensor {
	t.Name = name
	return t
}

// WriteTo schreibt die Tensordaten zusammenhaengend und Little-Endian
func (t Tensor) WriteTo(w io.Writer) (int64, error) {
	if t.data == nil {
		return 0, fmt.Errorf("%w: tensor %q has no data", ErrUnexpectedValue, t.Name)
	}
	return t.data.writeTo(w, &t)
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// =============================================================================
// Rohdaten
// =============================================================================

type rawData []byte

func (d rawData) writeTo(w io.Writer, _ *Tensor) (int64, error) {
	n, err := w.Write(d)
	return int64(n), err
}

// =============================================================================
// PyTorch Storage
// =============================================================================

// torchStorage kapselt einen gopickle Storage mit Typ, Laenge und Encoder
type torchStorage struct {
	dtype  DType
	length int
	// encode kodiert count Elemente ab start nach dst
	encode func(dst []byte, start, count int)
}

// wrapStorage ordnet einem gopickle Storage den passenden Encoder zu
func wrapStorage(s pytorch.StorageInterface) (torchStorage, error) {
	le := binary.LittleEndian
	switch s := s.(type) {
	case *pytorch.FloatStorage:
		return torchStorage{DTypeF32, len(s.Data), func(dst []byte, start, count int) {
			for i, v := range s.Data[start : start+count] {
				le.PutUint32(dst[i*4:], math.Float32bits(v))
			}
		}}, nil
	case *pytorch.HalfStorage:
		// gopickle liefert float32; endliche Werte und Inf sind exakt,
		// NaN wird als quiet NaN geschrieben und verliert untere Payload-Bits
		return torchStorage{DTypeF16, len(s.Data), func(dst []byte, start, count int) {
			for i, v := range s.Data[start : start+count] {
				le.PutUint16(dst[i*2:], float16.Fromfloat32(v).Bits())
			}
		}}, nil
	case *pytorch.BFloat16Storage:
		return torchStorage{DTypeBF16, len(s.Data), func(dst []byte, start, count int) {
			copy(dst, bfloat16.EncodeFloat32(s.Data[start:start+count]))
		}}, nil
	case *pytorch.DoubleStorage:
		return torchStorage{DTypeF64, len(s.Data), func(dst []byte, start, count int) {
			for i, v := range s.Data[start : start+count] {
				le.PutUint64(dst[i*8:], math.Float64bits(v))
			}
		}}, nil
	case *pytorch.LongStorage:
		return torchStorage{DTypeI64, len(s.Data), func(dst []byte, start, count int) {
			for i, v := range s.Data[start : start+count] {
				le.PutUint64(dst[i*8:], uint64(v))
			}
		}}, nil
	case *pytorch.IntStorage:
		return torchStorage{DTypeI32, len(s.Data), func(dst []byte, start, count int) {
			for i, v := range s.Data[start : start+count] {
				le.PutUint32(dst[i*4:], uint32(v))
			}
		}}, nil
	case *pytorch.ShortStorage:
		return torchStorage{DTypeI16, len(s.Data), func(dst []byte, start, count int) {
			for i, v := range s.Data[start : start+count] {
				le.PutUint16(dst[i*2:], uint16(v))
			}
		}}, nil
	case *pytorch.CharStorage:
		return torchStorage{DTypeI8, len(s.Data), func(dst []byte, start, count int) {
			for i, v := range s.Data[start : start+count] {
				dst[i] = byte(v)
			}
		}}, nil
	case *pytorch.ByteStorage:
		return torchStorage{DTypeU8, len(s.Data), func(dst []byte, start, count int) {
			copy(dst, s.Data[start:start+count])
		}}, nil
	case *pytorch.BoolStorage:
		return torchStorage{DTypeBool, len(s.Data), func(dst []byte, start, count int) {
			for i, v := range s.Data[start : start+count] {
				dst[i] = 0
				if v {
					dst[i] = 1
				}
			}
		}}, nil
	default:
		return torchStorage{}, fmt.Errorf("%w: storage type %T", ErrUnexpectedValue, s)
	}
}

// torchData ist eine Sicht auf einen Storage
type torchData struct {
	storage torchStorage
	offset  int
	stride  []int
}

// newTorchTensor erstellt einen Tensor aus einem deserialisierten pytorch.Tensor
// und prueft, dass die Sicht innerhalb des Storage liegt.
func newTorchTensor(name string, pt *pytorch.Tensor) (Tensor, error) {
	s, err := wrapStorage(pt.Source)
	if err != nil {
		return Tensor{}, fmt.Errorf("tensor %q: %w", name, err)
	}

	shape, stride := slices.Clone(pt.Size), slices.Clone(pt.Stride)
	if len(shape) != len(stride) {
		return Tensor{}, fmt.Errorf("%w: tensor %q has shape %v and stride %v", ErrUnexpectedValue, name, shape, stride)
	}

	if n := numElements(shape); n > 0 {
		last := pt.StorageOffset
		for k := range shape {
			if shape[k] < 0 || stride[k] < 0 {
				return Tensor{}, fmt.Errorf("%w: tensor %q has shape %v and stride %v", ErrUnexpectedValue, name, shape, stride)
			}
			last += (shape[k] - 1) * stride[k]
		}
		if pt.StorageOffset < 0 || last >= s.length {
			return Tensor{}, fmt.Errorf("%w: tensor %q exceeds storage of %d elements", ErrUnexpectedValue, name, s.length)
		}
	}

	return Tensor{
		Name:  name,
		DType: s.dtype,
		Shape: shape,
		data:  &torchData{storage: s, offset: pt.StorageOffset, stride: stride},
	}, nil
}

func (d *torchData) writeTo(w io.Writer, t *Tensor) (int64, error) {
	size := t.DType.Size()
	bw := bufio.NewWriterSize(w, 1<<20)
	buf := make([]byte, runChunk*size)

	var n int64
	for start, count := range storageRuns(t.Shape, d.stride, d.offset) {
		for count > 0 {
			c := min(count, runChunk)
			d.storage.encode(buf, start, c)
			m, err := bw.Write(buf[:c*size])
			n += int64(m)
			if err != nil {
				return n, err
			}
			start, count = start+c, count-c
		}
	}

	return n, bw.Flush()
}

// contiguous prueft ob stride der row-major Anordnung von shape entspricht.
// Dimensionen der Groesse 1 werden ignoriert.
func contiguous(shape, stride []int) bool {
	expected := 1
	for k := len(shape) - 1; k >= 0; k-- {
		if shape[k] != 1 && stride[k] != expected {
			return false
		}
		expected *= shape[k]
	}
	return true
}

// storageRuns liefert (Start, Anzahl) Paare zusammenhaengender Storage-Bereiche
// in row-major Reihenfolge der Sicht.
func storageRuns(shape, stride []int, offset int) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		n := numElements(shape)
		if n == 0 {
			return
		}

		if contiguous(shape, stride) {
			for start := 0; start < n; start += runChunk {
				if !yield(offset+start, min(runChunk, n-start)) {
					return
				}
			}
			return
		}

		outer, run := shape, 1
		if k := len(shape) - 1; k >= 0 && stride[k] == 1 {
			outer, run = shape[:k], shape[k]
		}

		pos := make([]int, len(outer))
		for range n / run {
			idx := offset
			for k, p := range pos {
				idx += p * stride[k]
			}
			if !yield(idx, run) {
				return
			}

			for k := len(pos) - 1; k >= 0; k-- {
				pos[k]++
				if pos[k] < outer[k] {
					break
				}
				pos[k] = 0
			}
		}
	}
}
