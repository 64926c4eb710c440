package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dtype is a zarr data type.
// Simple data types as a string following the NumPy array protocol type string
// (typestr) format. The format consists of 3 parts:
//   - One character describing the byteorder of the data:
//     "<": little-endian; ">": big-endian; "|": not-relevant)
//   - One character code giving the basic type of the array:
//     "b" boolean, "i" integer, "u" unsigned integer, "f" floating point,
//     "c" complex, "m" timedelta, "M" datetime, "S" string, "U" unicode,
//     "V" other
//   - An integer specifying the number of bytes the type uses.
//
// Structured (record) dtypes are not supported.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

func ParseDtype(s string) (dt Dtype, err error) {
	// bug in python implementation uses HTML escape sequences when serializaing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	sizeStr, unitStr := s, ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, unitStr = s[:i], s[i:]
	}

	size, err := strconv.ParseInt(sizeStr, 10, 0)
	if err != nil {
		return dt, err
	}
	dt.ByteSize = int(size)
	dt.Units = unitStr

	return dt, nil
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += dt.Units
	}
	return s
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return fmt.Errorf("%w: structured dtype %s", ErrUnsupported, string(d))
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

// DataType maps the dtype onto the closed set of numeric element types arrays
// can be read into
func (dt Dtype) DataType() (DataType, error) {
	switch dt.BasicType {
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			return Int8, nil
		case 2:
			return Int16, nil
		case 4:
			return Int32, nil
		case 8:
			return Int64, nil
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return Uint8, nil
		case 2:
			return Uint16, nil
		case 4:
			return Uint32, nil
		case 8:
			return Uint64, nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return Float32, nil
		case 8:
			return Float64, nil
		}
	}
	return Unknown, fmt.Errorf("%w: dtype %q (%d byte %s)", ErrUnsupported, dt.String(), dt.ByteSize, dt.BasicType.Human())
}

// Order returns the encoding/binary byte order for element data
func (dt Dtype) Order() binary.ByteOrder {
	if dt.ByteOrder == BOLittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// NewDtype builds the typestr for a numeric data type
func NewDtype(t DataType, bo ByteOrder) Dtype {
	if t.Size() == 1 {
		bo = BONotRelevant
	}
	return Dtype{ByteOrder: bo, BasicType: t.basicType(), ByteSize: t.Size()}
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timeDelta",
	BTDatetime:      "dateTime",
	BTString:        "string",
	BTUnicode:       "unicode",
	BTOther:         "other",
}

// DataType is a numeric element type
type DataType uint8

const (
	Unknown DataType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float",
	Float64: "double",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Size is the element width in bytes
func (t DataType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

func (t DataType) basicType() BasicType {
	switch t {
	case Int8, Int16, Int32, Int64:
		return BTInteger
	case Uint8, Uint16, Uint32, Uint64:
		return BTUnsigned
	case Float32, Float64:
		return BTFloatingPoint
	}
	return BTOther
}

// NewBuffer allocates a native slice of n elements for the data type
func (t DataType) NewBuffer(n int) interface{} {
	switch t {
	case Int8:
		return make([]int8, n)
	case Int16:
		return make([]int16, n)
	case Int32:
		return make([]int32, n)
	case Int64:
		return make([]int64, n)
	case Uint8:
		return make([]uint8, n)
	case Uint16:
		return make([]uint16, n)
	case Uint32:
		return make([]uint32, n)
	case Uint64:
		return make([]uint64, n)
	case Float32:
		return make([]float32, n)
	case Float64:
		return make([]float64, n)
	}
	return nil
}

// BufferType reports the data type and length of a native slice
func BufferType(buf interface{}) (DataType, int, bool) {
	switch b := buf.(type) {
	case []int8:
		return Int8, len(b), true
	case []int16:
		return Int16, len(b), true
	case []int32:
		return Int32, len(b), true
	case []int64:
		return Int64, len(b), true
	case []uint8:
		return Uint8, len(b), true
	case []uint16:
		return Uint16, len(b), true
	case []uint32:
		return Uint32, len(b), true
	case []uint64:
		return Uint64, len(b), true
	case []float32:
		return Float32, len(b), true
	case []float64:
		return Float64, len(b), true
	}
	return Unknown, 0, false
}
