package interp

import "encoding/binary"

// decoder is a bounds-checked cursor over one function's bytecode,
// advancing past each operand it reads.
type decoder struct {
	code []byte
	pos  int
}

func (d *decoder) u8() uint8 {
	b := d.code[d.pos]
	d.pos++
	return b
}

func (d *decoder) u16() uint16 {
	v := binary.LittleEndian.Uint16(d.code[d.pos : d.pos+2])
	d.pos += 2
	return v
}

func (d *decoder) u32() uint32 {
	v := binary.LittleEndian.Uint32(d.code[d.pos : d.pos+4])
	d.pos += 4
	return v
}

func (d *decoder) i32() int32 {
	return int32(d.u32())
}
