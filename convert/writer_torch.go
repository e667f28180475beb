// MODUL: convert/writer_torch
// ZWECK: Legacy-Ausgabeformat pytorch_model.bin (PyTorch zip Archiv mit pickle)
// INPUT: normalisierte Gewichte
// OUTPUT: zip mit archive/data.pkl, archive/data/<n>, archive/version, archive/byteorder
// NEBENEFFEKTE: keine, schreibt nur in den uebergebenen Writer
// ABHAENGIGKEITEN: archive/zip (stdlib), Pickle-Protokoll 2 (handgeschrieben)

package convert

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
)

// torchStorageClass - pickle Klassenname je Datentyp
var torchStorageClass = map[DType]string{
	DTypeF64:  "DoubleStorage",
	DTypeF32:  "FloatStorage",
	DTypeF16:  "HalfStorage",
	DTypeBF16: "BFloat16Storage",
	DTypeI64:  "LongStorage",
	DTypeI32:  "IntStorage",
	DTypeI16:  "ShortStorage",
	DTypeI8:   "CharStorage",
	DTypeU8:   "ByteStorage",
	DTypeBool: "BoolStorage",
}

const torchArchiveName = "archive"

type torchFormat struct{}

func (torchFormat) Name() string     { return FormatPyTorch }
func (torchFormat) FileName() string { return TorchFile }

// Encode schreibt ws als Dict name -> Tensor im PyTorch zip Format.
// meta wird vom Format nicht unterstuetzt und ignoriert.
func (torchFormat) Encode(w io.Writer, ws *Weights, _ map[string]string) error {
	root := &pyDict{}
	for name, t := range ws.All() {
		root.set(name, t)
	}
	return writeTorchArchive(w, root)
}

// pyDict - minimales Python-Dict fuer den Pickler; Werte sind Tensor oder *pyDict
type pyDict struct {
	ordered bool
	keys    []string
	values  []any
}

func (d *pyDict) set(key string, value any) {
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
}

// writeTorchArchive schreibt root als torch.save kompatibles zip Archiv
func writeTorchArchive(w io.Writer, root *pyDict) error {
	p := &pickler{}
	if err := p.dump(root); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	put := func(name string, write func(io.Writer) error) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: torchArchiveName + "/" + name, Method: zip.Store})
		if err != nil {
			return err
		}
		return write(fw)
	}

	if err := put("data.pkl", func(w io.Writer) error {
		_, err := w.Write(p.buf.Bytes())
		return err
	}); err != nil {
		return err
	}

	if err := put("byteorder", func(w io.Writer) error {
		_, err := io.WriteString(w, "little")
		return err
	}); err != nil {
		return err
	}

	for i, t := range p.storages {
		if err := put("data/"+strconv.Itoa(i), func(w io.Writer) error {
			n, err := t.WriteTo(w)
			if err == nil && n != t.Size() {
				err = fmt.Errorf("tensor %q: wrote %d bytes, expected %d", t.Name, n, t.Size())
			}
			return err
		}); err != nil {
			return err
		}
	}

	if err := put("version", func(w io.Writer) error {
		_, err := io.WriteString(w, "3\n")
		return err
	}); err != nil {
		return err
	}

	return zw.Close()
}

// =============================================================================
// Pickle Protokoll 2
// =============================================================================

const (
	opProto      = 0x80
	opStop       = '.'
	opMark       = '('
	opTuple      = 't'
	opEmptyTuple = ')'
	opEmptyDict  = '}'
	opSetItems   = 'u'
	opGlobal     = 'c'
	opReduce     = 'R'
	opBinInt     = 'J'
	opBinUnicode = 'X'
	opBinPersID  = 'Q'
	opNewFalse   = 0x89
)

// pickler serialisiert pyDict Baeume; Tensordaten werden als persistente
// Storage-Referenzen abgelegt und in storages gesammelt.
type pickler struct {
	buf      bytes.Buffer
	storages []Tensor
}

func (p *pickler) dump(root *pyDict) error {
	p.buf.Write([]byte{opProto, 2})
	if err := p.dict(root); err != nil {
		return err
	}
	p.buf.WriteByte(opStop)
	return nil
}

func (p *pickler) dict(d *pyDict) error {
	if d.ordered {
		p.orderedDict()
	} else {
		p.buf.WriteByte(opEmptyDict)
	}

	if len(d.keys) == 0 {
		return nil
	}

	p.buf.WriteByte(opMark)
	for i, k := range d.keys {
		p.str(k)
		switch v := d.values[i].(type) {
		case Tensor:
			if err := p.tensor(v); err != nil {
				return err
			}
		case *pyDict:
			if err := p.dict(v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: cannot pickle %T", ErrUnexpectedValue, v)
		}
	}
	p.buf.WriteByte(opSetItems)
	return nil
}

// orderedDict legt ein leeres collections.OrderedDict auf den Stack
func (p *pickler) orderedDict() {
	p.global("collections", "OrderedDict")
	p.buf.WriteByte(opEmptyTuple)
	p.buf.WriteByte(opReduce)
}

// tensor schreibt torch._utils._rebuild_tensor_v2(storage, 0, size, stride, False, OrderedDict())
func (p *pickler) tensor(t Tensor) error {
	class, ok := torchStorageClass[t.DType]
	if !ok {
		return fmt.Errorf("%w: dtype %q", ErrUnexpectedValue, t.DType)
	}

	n := t.NumElements()
	if n > math.MaxInt32 {
		return fmt.Errorf("%w: tensor %q has %d elements", ErrFormatUnavailable, t.Name, n)
	}

	key := strconv.Itoa(len(p.storages))
	p.storages = append(p.storages, t)

	p.global("torch._utils", "_rebuild_tensor_v2")
	p.buf.WriteByte(opMark)

	// persistent id: ('storage', torch.<Class>, key, 'cpu', numel)
	p.buf.WriteByte(opMark)
	p.str("storage")
	p.global("torch", class)
	p.str(key)
	p.str("cpu")
	p.int(n)
	p.buf.WriteByte(opTuple)
	p.buf.WriteByte(opBinPersID)

	p.int(0)
	p.ints(t.Shape)
	p.ints(contiguousStride(t.Shape))
	p.buf.WriteByte(opNewFalse)
	p.orderedDict()

	p.buf.WriteByte(opTuple)
	p.buf.WriteByte(opReduce)
	return nil
}

func (p *pickler) global(module, name string) {
	p.buf.WriteByte(opGlobal)
	p.buf.WriteString(module + "\n" + name + "\n")
}

func (p *pickler) str(s string) {
	p.buf.WriteByte(opBinUnicode)
	binary.Write(&p.buf, binary.LittleEndian, uint32(len(s))) //nolint:errcheck
	p.buf.WriteString(s)
}

func (p *pickler) int(n int) {
	p.buf.WriteByte(opBinInt)
	binary.Write(&p.buf, binary.LittleEndian, int32(n)) //nolint:errcheck
}

// ints schreibt ein Tupel von Integern
func (p *pickler) ints(ns []int) {
	p.buf.WriteByte(opMark)
	for _, n := range ns {
		p.int(n)
	}
	p.buf.WriteByte(opTuple)
}

// contiguousStride gibt die row-major Strides fuer shape zurueck
func contiguousStride(shape []int) []int {
	stride := make([]int, len(shape))
	s := 1
	for k := len(shape) - 1; k >= 0; k-- {
		stride[k] = s
		s *= shape[k]
	}
	return stride
}
