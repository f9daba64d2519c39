// Package onnxmeta extracts the metadata of an ONNX model that the force
// plugin needs: the names of the graph's inputs and outputs, the producer,
// and the opset version.
//
// It implements just enough of the protobuf wire format to scan a ModelProto
// without depending on a protobuf runtime or loading the graph itself. Weight
// initializers listed among the graph inputs are excluded from Inputs, so
// Inputs contains exactly the tensors a session must feed.
package onnxmeta

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Info holds the model metadata relevant to the plugin.
type Info struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	GraphName       string

	// Inputs are the graph input names, excluding initializers.
	Inputs []string
	// Outputs are the graph output names.
	Outputs []string
}

// HasInput reports whether the model declares an input with the given name.
func (info *Info) HasInput(name string) bool {
	for _, n := range info.Inputs {
		if n == name {
			return true
		}
	}
	return false
}

// HasOutput reports whether the model declares an output with the given name.
func (info *Info) HasOutput(name string) bool {
	for _, n := range info.Outputs {
		if n == name {
			return true
		}
	}
	return false
}

// ParseFile reads an ONNX file and extracts its metadata.
func ParseFile(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return Parse(data)
}

// Parse extracts metadata from ONNX model bytes.
func Parse(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, errors.New("empty model")
	}
	info := &Info{}
	if err := scanModel(&scanner{data: data}, info); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(info.Outputs) == 0 {
		return nil, errors.New("model has no graph outputs")
	}
	return info, nil
}

// Protobuf wire types.
const (
	wireVarint = 0
	wire64Bit  = 1
	wireBytes  = 2
	wire32Bit  = 5
)

// ModelProto and GraphProto field numbers, per the ONNX schema.
const (
	modelIRVersion       = 1
	modelProducerName    = 2
	modelProducerVersion = 3
	modelGraph           = 7
	modelOpsetImport     = 8

	opsetVersion = 2

	graphName        = 2
	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12

	valueInfoName  = 1
	tensorProtoName = 8
)

func scanModel(s *scanner, info *Info) error {
	var initializers map[string]bool
	var inputs []string
	for !s.done() {
		field, wire, err := s.tag()
		if err != nil {
			return err
		}
		switch field {
		case modelIRVersion:
			if info.IRVersion, err = s.varint(); err != nil {
				return err
			}
		case modelProducerName:
			if info.ProducerName, err = s.str(); err != nil {
				return err
			}
		case modelProducerVersion:
			if info.ProducerVersion, err = s.str(); err != nil {
				return err
			}
		case modelOpsetImport:
			data, err := s.bytes()
			if err != nil {
				return err
			}
			version, err := scanOpset(&scanner{data: data})
			if err != nil {
				return err
			}
			if version > info.OpsetVersion {
				info.OpsetVersion = version
			}
		case modelGraph:
			data, err := s.bytes()
			if err != nil {
				return err
			}
			if initializers == nil {
				initializers = make(map[string]bool)
			}
			if inputs, err = scanGraph(&scanner{data: data}, info, initializers); err != nil {
				return err
			}
		default:
			if err := s.skip(wire); err != nil {
				return err
			}
		}
	}

	// Initializers may appear after inputs inside the graph, so filter at
	// the end.
	for _, name := range inputs {
		if !initializers[name] {
			info.Inputs = append(info.Inputs, name)
		}
	}
	return nil
}

func scanOpset(s *scanner) (int64, error) {
	var version int64
	for !s.done() {
		field, wire, err := s.tag()
		if err != nil {
			return 0, err
		}
		if field == opsetVersion && wire == wireVarint {
			if version, err = s.varint(); err != nil {
				return 0, err
			}
			continue
		}
		if err := s.skip(wire); err != nil {
			return 0, err
		}
	}
	return version, nil
}

func scanGraph(s *scanner, info *Info, initializers map[string]bool) ([]string, error) {
	var inputs []string
	for !s.done() {
		field, wire, err := s.tag()
		if err != nil {
			return nil, err
		}
		switch field {
		case graphName:
			if info.GraphName, err = s.str(); err != nil {
				return nil, err
			}
		case graphInitializer:
			data, err := s.bytes()
			if err != nil {
				return nil, err
			}
			name, err := scanName(&scanner{data: data}, tensorProtoName)
			if err != nil {
				return nil, err
			}
			if name != "" {
				initializers[name] = true
			}
		case graphInput:
			data, err := s.bytes()
			if err != nil {
				return nil, err
			}
			name, err := scanName(&scanner{data: data}, valueInfoName)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, name)
		case graphOutput:
			data, err := s.bytes()
			if err != nil {
				return nil, err
			}
			name, err := scanName(&scanner{data: data}, valueInfoName)
			if err != nil {
				return nil, err
			}
			info.Outputs = append(info.Outputs, name)
		default:
			if err := s.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return inputs, nil
}

// scanName extracts a single string field from an embedded message.
func scanName(s *scanner, nameField int) (string, error) {
	var name string
	for !s.done() {
		field, wire, err := s.tag()
		if err != nil {
			return "", err
		}
		if field == nameField && wire == wireBytes {
			if name, err = s.str(); err != nil {
				return "", err
			}
			continue
		}
		if err := s.skip(wire); err != nil {
			return "", err
		}
	}
	return name, nil
}

// scanner is a minimal protobuf wire format reader.
type scanner struct {
	data []byte
	pos  int
}

func (s *scanner) done() bool {
	return s.pos >= len(s.data)
}

func (s *scanner) tag() (field, wire int, err error) {
	tag, err := s.varint()
	if err != nil {
		return 0, 0, err
	}
	return int(tag >> 3), int(tag & 0x7), nil
}

func (s *scanner) varint() (int64, error) {
	var result uint64
	var shift uint
	for {
		if s.pos >= len(s.data) {
			return 0, io.ErrUnexpectedEOF
		}
		b := s.data[s.pos]
		s.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, errors.New("varint overflow")
		}
	}
	return int64(result), nil
}

func (s *scanner) bytes() ([]byte, error) {
	length, err := s.varint()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.New("negative length")
	}
	end := s.pos + int(length)
	if end > len(s.data) || end < s.pos {
		return nil, io.ErrUnexpectedEOF
	}
	result := s.data[s.pos:end]
	s.pos = end
	return result, nil
}

func (s *scanner) str() (string, error) {
	data, err := s.bytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *scanner) skip(wire int) error {
	switch wire {
	case wireVarint:
		_, err := s.varint()
		return err
	case wire64Bit:
		if s.pos+8 > len(s.data) {
			return io.ErrUnexpectedEOF
		}
		s.pos += 8
		return nil
	case wireBytes:
		_, err := s.bytes()
		return err
	case wire32Bit:
		if s.pos+4 > len(s.data) {
			return io.ErrUnexpectedEOF
		}
		s.pos += 4
		return nil
	default:
		return fmt.Errorf("unknown wire type: %d", wire)
	}
}
