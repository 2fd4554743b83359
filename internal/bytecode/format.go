// Serialization and human-readable disassembly for compiled Chunks,
// adapted from pkg/bytecode/format.go's .sg binary layout (magic number,
// versioned header, length-prefixed constant/instruction sections) to this
// package's register Instr/Const shape in place of the stack machine's
// single-operand Instruction.
package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	// MagicNumber is the file signature for compiled .smc chunks.
	MagicNumber uint32 = 0x534D4F43 // "SMOC"
	// FormatVersion is the current chunk format version.
	FormatVersion uint32 = 1
)

const (
	constTypeNumber byte = iota
	constTypeString
	constTypeBigInt
	constTypeRegExp
	constTypeChildChunk
)

// Encode serializes chunk to w in the versioned binary layout, recursing
// into ConstChildChunk entries the way the teacher's Encode recurses into
// nested *Bytecode block/method constants.
func Encode(chunk *Chunk, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, MagicNumber); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, FormatVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := writeString(w, chunk.Name); err != nil {
		return fmt.Errorf("write name: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(chunk.RegisterCount)); err != nil {
		return fmt.Errorf("write register count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, int32(chunk.ParamCount)); err != nil {
		return fmt.Errorf("write param count: %w", err)
	}
	if err := writeBool(w, chunk.IsGenerator); err != nil {
		return err
	}
	if err := writeBool(w, chunk.IsAsync); err != nil {
		return err
	}
	if err := writeConstants(w, chunk.Constants); err != nil {
		return fmt.Errorf("write constants: %w", err)
	}
	if err := writeInstructions(w, chunk.Code); err != nil {
		return fmt.Errorf("write instructions: %w", err)
	}
	return writePositions(w, chunk.SourceMap)
}

// Decode reads a chunk previously written by Encode.
func Decode(r io.Reader) (*Chunk, error) {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("invalid magic number: 0x%08X (expected 0x%08X)", magic, MagicNumber)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported chunk format version: %d (expected %d)", version, FormatVersion)
	}
	name, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("read name: %w", err)
	}
	var regs, params int32
	if err := binary.Read(r, binary.LittleEndian, &regs); err != nil {
		return nil, fmt.Errorf("read register count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &params); err != nil {
		return nil, fmt.Errorf("read param count: %w", err)
	}
	isGen, err := readBool(r)
	if err != nil {
		return nil, err
	}
	isAsync, err := readBool(r)
	if err != nil {
		return nil, err
	}
	consts, err := readConstants(r)
	if err != nil {
		return nil, fmt.Errorf("read constants: %w", err)
	}
	code, err := readInstructions(r)
	if err != nil {
		return nil, fmt.Errorf("read instructions: %w", err)
	}
	sourceMap, err := readPositions(r)
	if err != nil {
		return nil, fmt.Errorf("read source map: %w", err)
	}
	return &Chunk{
		Code:          code,
		Constants:     consts,
		SourceMap:     sourceMap,
		RegisterCount: regs,
		Name:          name,
		ParamCount:    int(params),
		IsGenerator:   isGen,
		IsAsync:       isAsync,
	}, nil
}

func writeBool(w io.Writer, b bool) error {
	var v byte
	if b {
		v = 1
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readBool(r io.Reader) (bool, error) {
	var v byte
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return false, err
	}
	return v != 0, nil
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

func writeConstants(w io.Writer, consts []Const) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(consts))); err != nil {
		return err
	}
	for i, c := range consts {
		if err := writeConstant(w, c); err != nil {
			return fmt.Errorf("constant %d: %w", i, err)
		}
	}
	return nil
}

func writeConstant(w io.Writer, c Const) error {
	switch c.Kind {
	case ConstNumber:
		if err := binary.Write(w, binary.LittleEndian, constTypeNumber); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, c.Number)
	case ConstString:
		if err := binary.Write(w, binary.LittleEndian, constTypeString); err != nil {
			return err
		}
		return writeString(w, c.Str)
	case ConstBigInt:
		if err := binary.Write(w, binary.LittleEndian, constTypeBigInt); err != nil {
			return err
		}
		return writeString(w, c.Str)
	case ConstRegExp:
		if err := binary.Write(w, binary.LittleEndian, constTypeRegExp); err != nil {
			return err
		}
		if err := writeString(w, c.Str); err != nil {
			return err
		}
		return writeString(w, c.Flags)
	case ConstChildChunk:
		if err := binary.Write(w, binary.LittleEndian, constTypeChildChunk); err != nil {
			return err
		}
		return Encode(c.Chunk, w)
	default:
		return fmt.Errorf("unsupported constant kind: %d", c.Kind)
	}
}

func readConstants(r io.Reader) ([]Const, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]Const, n)
	for i := uint32(0); i < n; i++ {
		c, err := readConstant(r)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

func readConstant(r io.Reader) (Const, error) {
	var kind byte
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return Const{}, err
	}
	switch kind {
	case constTypeNumber:
		var n float64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return Const{}, err
		}
		return Const{Kind: ConstNumber, Number: n}, nil
	case constTypeString:
		s, err := readString(r)
		if err != nil {
			return Const{}, err
		}
		return Const{Kind: ConstString, Str: s}, nil
	case constTypeBigInt:
		s, err := readString(r)
		if err != nil {
			return Const{}, err
		}
		return Const{Kind: ConstBigInt, Str: s}, nil
	case constTypeRegExp:
		src, err := readString(r)
		if err != nil {
			return Const{}, err
		}
		flags, err := readString(r)
		if err != nil {
			return Const{}, err
		}
		return Const{Kind: ConstRegExp, Str: src, Flags: flags}, nil
	case constTypeChildChunk:
		child, err := Decode(r)
		if err != nil {
			return Const{}, err
		}
		return Const{Kind: ConstChildChunk, Chunk: child}, nil
	default:
		return Const{}, fmt.Errorf("unknown constant type: 0x%02X", kind)
	}
}

func writeInstructions(w io.Writer, code []Instr) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(code))); err != nil {
		return err
	}
	for _, instr := range code {
		if err := binary.Write(w, binary.LittleEndian, byte(instr.Op)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, [4]int32{instr.A, instr.B, instr.C, instr.D}); err != nil {
			return err
		}
	}
	return nil
}

func readInstructions(r io.Reader) ([]Instr, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]Instr, n)
	for i := uint32(0); i < n; i++ {
		var op byte
		if err := binary.Read(r, binary.LittleEndian, &op); err != nil {
			return nil, err
		}
		var operands [4]int32
		if err := binary.Read(r, binary.LittleEndian, &operands); err != nil {
			return nil, err
		}
		out[i] = Instr{Op: Op(op), A: operands[0], B: operands[1], C: operands[2], D: operands[3]}
	}
	return out, nil
}

func writePositions(w io.Writer, positions []Pos) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(positions))); err != nil {
		return err
	}
	for _, p := range positions {
		if err := binary.Write(w, binary.LittleEndian, [2]int32{int32(p.Line), int32(p.Column)}); err != nil {
			return err
		}
	}
	return nil
}

func readPositions(r io.Reader) ([]Pos, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]Pos, n)
	for i := uint32(0); i < n; i++ {
		var lc [2]int32
		if err := binary.Read(r, binary.LittleEndian, &lc); err != nil {
			return nil, err
		}
		out[i] = Pos{Line: int(lc[0]), Column: int(lc[1])}
	}
	return out, nil
}

// Disassemble renders chunk (and, recursively, every child chunk reached
// through a ConstChildChunk constant) as human-readable text for the
// `smog disasm` CLI command and debugger `list` output.
func Disassemble(chunk *Chunk) string {
	var b strings.Builder
	disassemble(&b, chunk, "")
	return b.String()
}

func disassemble(b *strings.Builder, chunk *Chunk, indent string) {
	name := chunk.Name
	if name == "" {
		name = "<anonymous>"
	}
	fmt.Fprintf(b, "%schunk %s (registers=%d params=%d generator=%t async=%t)\n",
		indent, name, chunk.RegisterCount, chunk.ParamCount, chunk.IsGenerator, chunk.IsAsync)
	for i, instr := range chunk.Code {
		fmt.Fprintf(b, "%s  %4d: %-16s A=%d B=%d C=%d D=%d\n", indent, i, instr.Op, instr.A, instr.B, instr.C, instr.D)
	}
	for i, c := range chunk.Constants {
		if c.Kind == ConstChildChunk {
			fmt.Fprintf(b, "%s  -- constants[%d] --\n", indent, i)
			disassemble(b, c.Chunk, indent+"  ")
		}
	}
}
