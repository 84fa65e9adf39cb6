// Package bytecode (this file) implements serialization for the .sg
// bytecode image format.
//
// Binary Format Layout:
//
//	[Header]
//	  Magic Number (4 bytes): "SMOG" (0x534D4F47)
//	  Version (4 bytes): format version (currently 2 - 32-bit packed
//	  instructions and the VM's constant/identifier/debug layout,
//	  superseding the teacher's object-oriented v1 format)
//
//	[Program Section]
//	  Count (4 bytes)
//	  Count * 4-byte packed instruction words (§3.4 encoding)
//
//	[Constants Section]
//	  Count (4 bytes)
//	  For each: Type (1 byte) + type-specific payload
//	    0x01 number  (8 bytes, float64)
//	    0x02 string  (4-byte length + UTF-8 bytes)
//	    0x03 null    (0 bytes)
//
//	[Identifiers Section]
//	  Count (4 bytes)
//	  For each: 4-byte length + UTF-8 bytes
//
//	[Debug Section]
//	  Count (4 bytes)
//	  For each: 4-byte file-name length + UTF-8 bytes, 4-byte line
package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kristofer/smog/pkg/value"
)

// MagicNumber identifies a .sg file.
const MagicNumber uint32 = 0x534D4F47 // "SMOG"

// FormatVersion is the current .sg format revision.
const FormatVersion uint32 = 2

const (
	constTypeNumber byte = 0x01
	constTypeString byte = 0x02
	constTypeNull   byte = 0x03
)

// Encode writes bc to w in the .sg binary format.
func Encode(bc *Bytecode, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, MagicNumber); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, FormatVersion); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(bc.Program))); err != nil {
		return err
	}
	for _, ins := range bc.Program {
		if err := binary.Write(w, binary.LittleEndian, ins.Pack()); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(bc.Constants))); err != nil {
		return err
	}
	for _, c := range bc.Constants {
		if err := writeConstant(w, c); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(bc.Identifiers))); err != nil {
		return err
	}
	for _, id := range bc.Identifiers {
		if err := writeString(w, id); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(bc.Debug))); err != nil {
		return err
	}
	for _, d := range bc.Debug {
		if err := writeString(w, d.File); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(d.Line)); err != nil {
			return err
		}
	}

	return nil
}

// Decode reads a .sg binary image from r.
func Decode(r io.Reader) (*Bytecode, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("bytecode: bad magic number %#x", magic)
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("bytecode: unsupported format version %d", version)
	}

	bc := &Bytecode{}

	var progCount uint32
	if err := binary.Read(r, binary.LittleEndian, &progCount); err != nil {
		return nil, err
	}
	bc.Program = make([]Instruction, progCount)
	for i := range bc.Program {
		var word uint32
		if err := binary.Read(r, binary.LittleEndian, &word); err != nil {
			return nil, err
		}
		bc.Program[i] = Unpack(word)
	}

	var constCount uint32
	if err := binary.Read(r, binary.LittleEndian, &constCount); err != nil {
		return nil, err
	}
	bc.Constants = make([]*value.Value, constCount)
	for i := range bc.Constants {
		c, err := readConstant(r)
		if err != nil {
			return nil, err
		}
		bc.Constants[i] = c
	}

	var idCount uint32
	if err := binary.Read(r, binary.LittleEndian, &idCount); err != nil {
		return nil, err
	}
	bc.Identifiers = make([]string, idCount)
	for i := range bc.Identifiers {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		bc.Identifiers[i] = s
	}

	var debugCount uint32
	if err := binary.Read(r, binary.LittleEndian, &debugCount); err != nil {
		return nil, err
	}
	bc.Debug = make([]DebugPos, debugCount)
	for i := range bc.Debug {
		file, err := readString(r)
		if err != nil {
			return nil, err
		}
		var line uint32
		if err := binary.Read(r, binary.LittleEndian, &line); err != nil {
			return nil, err
		}
		bc.Debug[i] = DebugPos{File: file, Line: int(line)}
	}

	return bc, nil
}

func writeConstant(w io.Writer, c *value.Value) error {
	d, err := c.Deref()
	if err != nil {
		return err
	}
	switch d.Type() {
	case value.TypeNumber:
		if _, err := w.Write([]byte{constTypeNumber}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, d.RawNumber())
	case value.TypeString:
		if _, err := w.Write([]byte{constTypeString}); err != nil {
			return err
		}
		return writeString(w, d.RawString())
	case value.TypeNull:
		_, err := w.Write([]byte{constTypeNull})
		return err
	default:
		return fmt.Errorf("bytecode: unsupported constant type %s", d.Type())
	}
}

func readConstant(r io.Reader) (*value.Value, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	v := value.New()
	switch tag[0] {
	case constTypeNumber:
		var n float64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		v.AssignNumber(n)
	case constTypeString:
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		v.AssignString(s)
	case constTypeNull:
		// already null
	default:
		return nil, fmt.Errorf("bytecode: unknown constant tag %#x", tag[0])
	}
	return v, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
