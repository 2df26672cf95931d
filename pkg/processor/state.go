package processor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/takt-audio/takt/pkg/id"
)

// ParameterValue is one normalised parameter value in a snapshot.
type ParameterValue struct {
	ID    id.ObjectID
	Value float32
}

// PropertyValue is one string property value in a snapshot.
type PropertyValue struct {
	ID    id.ObjectID
	Value string
}

// State is a processor snapshot. Nil Bypassed means the flag was not
// captured.
type State struct {
	Bypassed   *bool
	Parameters []ParameterValue
	Properties []PropertyValue
}

var stateMagic = [4]byte{'T', 'A', 'K', 'T'}

const stateVersion uint16 = 1

const (
	flagHasBypass = 1 << iota
	flagBypassed
)

// MarshalBinary encodes the snapshot into a little-endian blob with a
// magic and version header.
func (s *State) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(stateMagic[:])
	binary.Write(&buf, binary.LittleEndian, stateVersion)

	var flags uint8
	if s.Bypassed != nil {
		flags |= flagHasBypass
		if *s.Bypassed {
			flags |= flagBypassed
		}
	}
	buf.WriteByte(flags)

	binary.Write(&buf, binary.LittleEndian, uint32(len(s.Parameters)))
	for _, pv := range s.Parameters {
		binary.Write(&buf, binary.LittleEndian, uint32(pv.ID))
		binary.Write(&buf, binary.LittleEndian, pv.Value)
	}

	binary.Write(&buf, binary.LittleEndian, uint32(len(s.Properties)))
	for _, pv := range s.Properties {
		binary.Write(&buf, binary.LittleEndian, uint32(pv.ID))
		binary.Write(&buf, binary.LittleEndian, uint32(len(pv.Value)))
		buf.WriteString(pv.Value)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a blob written by MarshalBinary.
func (s *State) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != stateMagic {
		return fmt.Errorf("%w: bad magic", ErrStateCorrupt)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("%w: truncated header", ErrStateCorrupt)
	}
	if version != stateVersion {
		return fmt.Errorf("%w: version %d", ErrStateVersion, version)
	}

	flags, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: truncated header", ErrStateCorrupt)
	}
	s.Bypassed = nil
	if flags&flagHasBypass != 0 {
		bypassed := flags&flagBypassed != 0
		s.Bypassed = &bypassed
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("%w: truncated parameter count", ErrStateCorrupt)
	}
	if int(count) > r.Len() {
		return fmt.Errorf("%w: parameter count %d exceeds payload", ErrStateCorrupt, count)
	}
	s.Parameters = make([]ParameterValue, 0, count)
	for i := uint32(0); i < count; i++ {
		var pid uint32
		var value float32
		if err := binary.Read(r, binary.LittleEndian, &pid); err != nil {
			return fmt.Errorf("%w: truncated parameter %d", ErrStateCorrupt, i)
		}
		if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
			return fmt.Errorf("%w: truncated parameter %d", ErrStateCorrupt, i)
		}
		s.Parameters = append(s.Parameters, ParameterValue{ID: id.ObjectID(pid), Value: value})
	}

	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("%w: truncated property count", ErrStateCorrupt)
	}
	if int(count) > r.Len() {
		return fmt.Errorf("%w: property count %d exceeds payload", ErrStateCorrupt, count)
	}
	s.Properties = make([]PropertyValue, 0, count)
	for i := uint32(0); i < count; i++ {
		var pid, strLen uint32
		if err := binary.Read(r, binary.LittleEndian, &pid); err != nil {
			return fmt.Errorf("%w: truncated property %d", ErrStateCorrupt, i)
		}
		if err := binary.Read(r, binary.LittleEndian, &strLen); err != nil {
			return fmt.Errorf("%w: truncated property %d", ErrStateCorrupt, i)
		}
		if int(strLen) > r.Len() {
			return fmt.Errorf("%w: property %d length %d exceeds payload", ErrStateCorrupt, i, strLen)
		}
		str := make([]byte, strLen)
		if _, err := r.Read(str); err != nil {
			return fmt.Errorf("%w: truncated property %d", ErrStateCorrupt, i)
		}
		s.Properties = append(s.Properties, PropertyValue{ID: id.ObjectID(pid), Value: string(str)})
	}
	return nil
}
