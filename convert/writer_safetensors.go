// writer_safetensors.go - safetensors Ausgabeformat
//
// Dateiaufbau: 8 Byte Header-Laenge (uint64 LE), JSON-Header mit
// Leerzeichen auf 8 Byte aufgefuellt, danach die Tensordaten in
// Header-Reihenfolge ohne Luecken.
package convert

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	safetensorsAlignment = 8
	safetensorsMetaKey   = "__metadata__"
	safetensorsMaxHeader = 100 << 20
)

// TensorInfo - Header-Eintrag eines Tensors
type TensorInfo struct {
	Name        string   `json:"-"`
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

type safetensorsFormat struct{}

func (safetensorsFormat) Name() string     { return FormatSafetensors }
func (safetensorsFormat) FileName() string { return SafetensorsFile }

// Encode schreibt ws mit meta als safetensors nach w
func (safetensorsFormat) Encode(w io.Writer, ws *Weights, meta map[string]string) error {
	header := orderedmap.New[string, any]()
	if len(meta) > 0 {
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		m := orderedmap.New[string, string]()
		for _, k := range keys {
			m.Set(k, meta[k])
		}
		header.Set(safetensorsMetaKey, m)
	}

	var offset int64
	var tensors []Tensor
	for name, t := range ws.All() {
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header.Set(name, TensorInfo{DType: t.DType, Shape: shape, DataOffsets: [2]int64{offset, offset + t.Size()}})
		offset += t.Size()
		tensors = append(tensors, t)
	}

	bts, err := json.Marshal(header)
	if err != nil {
		return err
	}

	for len(bts)%safetensorsAlignment != 0 {
		bts = append(bts, ' ')
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return err
	}
	if _, err := w.Write(bts); err != nil {
		return err
	}

	for _, t := range tensors {
		n, err := t.WriteTo(w)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name, err)
		}
		if n != t.Size() {
			return fmt.Errorf("tensor %q: wrote %d bytes, expected %d", t.Name, n, t.Size())
		}
	}
	return nil
}

// ReadSafetensorsHeader liest den Header einer safetensors Datei.
// Die Tensoren werden in Header-Reihenfolge zurueckgegeben.
func ReadSafetensorsHeader(r io.Reader) ([]TensorInfo, map[string]string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, err
	}
	if n > safetensorsMaxHeader {
		return nil, nil, fmt.Errorf("%w: safetensors header of %d bytes", ErrUnexpectedValue, n)
	}

	bts := make([]byte, n)
	if _, err := io.ReadFull(r, bts); err != nil {
		return nil, nil, err
	}

	header := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(bts, header); err != nil {
		return nil, nil, err
	}

	var infos []TensorInfo
	meta := map[string]string{}
	for pair := header.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == safetensorsMetaKey {
			if err := json.Unmarshal(pair.Value, &meta); err != nil {
				return nil, nil, fmt.Errorf("metadata: %w", err)
			}
			continue
		}

		var info TensorInfo
		if err := json.Unmarshal(pair.Value, &info); err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", pair.Key, err)
		}
		if info.DType.Size() == 0 {
			return nil, nil, fmt.Errorf("%w: tensor %q has dtype %q", ErrUnexpectedValue, pair.Key, info.DType)
		}
		info.Name = pair.Key
		infos = append(infos, info)
	}

	return infos, meta, nil
}
