// Package serialization converts a force to and from a hierarchical XML
// document, so a configured potential can be stored alongside the rest of a
// simulation and restored later.
//
// The document carries a format version, the model payload hex-encoded, and
// child nodes for the particle subset, extra inputs, global parameters, and
// properties. Version 1 is the only version understood.
package serialization

import (
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/openmm/openmm-onnx/force"
)

// currentVersion is the serialization format version written and accepted.
const currentVersion = 1

type forceNode struct {
	XMLName      xml.Name        `xml:"OnnxForce"`
	Version      int             `xml:"version,attr"`
	Model        string          `xml:"model,attr"`
	ForceGroup   int             `xml:"forceGroup,attr"`
	UsesPeriodic bool            `xml:"usesPeriodic,attr"`
	Particles    []particleNode  `xml:"ParticleIndices>Particle"`
	Inputs       inputsNode      `xml:"Inputs"`
	Globals      []parameterNode `xml:"GlobalParameters>Parameter"`
	Properties   []propertyNode  `xml:"Properties>Property"`
}

type particleNode struct {
	Index int `xml:"index,attr"`
}

// inputsNode preserves the insertion order of mixed IntegerInput and
// FloatInput children; the order fixes the session input layout.
type inputsNode struct {
	Inputs []inputNode `xml:",any"`
}

type inputNode struct {
	XMLName xml.Name
	Name    string      `xml:"name,attr"`
	Dims    []dimNode   `xml:"Shape>Dim"`
	Values  []valueNode `xml:"Values>Value"`
}

type dimNode struct {
	D int `xml:"d,attr"`
}

type valueNode struct {
	V string `xml:"v,attr"`
}

type parameterNode struct {
	Name    string `xml:"name,attr"`
	Default string `xml:"default,attr"`
}

type propertyNode struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Serialize encodes a force as an XML document.
func Serialize(f *force.Force) ([]byte, error) {
	node := forceNode{
		Version:      currentVersion,
		Model:        hex.EncodeToString(f.Model()),
		ForceGroup:   f.ForceGroup(),
		UsesPeriodic: f.UsesPeriodicBoundaryConditions(),
	}
	for _, index := range f.ParticleIndices() {
		node.Particles = append(node.Particles, particleNode{Index: index})
	}
	for i := 0; i < f.NumInputs(); i++ {
		input, err := f.Input(i)
		if err != nil {
			return nil, err
		}
		encoded, err := encodeInput(input)
		if err != nil {
			return nil, err
		}
		node.Inputs.Inputs = append(node.Inputs.Inputs, encoded)
	}
	for i := 0; i < f.NumGlobalParameters(); i++ {
		name, err := f.GlobalParameterName(i)
		if err != nil {
			return nil, err
		}
		value, err := f.GlobalParameterDefaultValue(i)
		if err != nil {
			return nil, err
		}
		node.Globals = append(node.Globals, parameterNode{
			Name:    name,
			Default: strconv.FormatFloat(value, 'g', -1, 64),
		})
	}
	props := f.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node.Properties = append(node.Properties, propertyNode{Name: name, Value: props[name]})
	}

	data, err := xml.MarshalIndent(node, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode force: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

func encodeInput(input force.Input) (inputNode, error) {
	node := inputNode{Name: input.Name()}
	for _, dim := range input.Shape() {
		node.Dims = append(node.Dims, dimNode{D: dim})
	}
	switch in := input.(type) {
	case *force.IntegerInput:
		node.XMLName = xml.Name{Local: "IntegerInput"}
		for _, v := range in.Values() {
			node.Values = append(node.Values, valueNode{V: strconv.FormatInt(v, 10)})
		}
	case *force.FloatInput:
		node.XMLName = xml.Name{Local: "FloatInput"}
		for _, v := range in.Values() {
			node.Values = append(node.Values, valueNode{V: strconv.FormatFloat(float64(v), 'g', -1, 32)})
		}
	default:
		return inputNode{}, fmt.Errorf("unsupported input type %T", input)
	}
	return node, nil
}

// Deserialize restores a force from an XML document produced by Serialize.
func Deserialize(data []byte) (*force.Force, error) {
	var node forceNode
	if err := xml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode force: %w", err)
	}
	if node.Version != currentVersion {
		return nil, fmt.Errorf("unsupported version number %d", node.Version)
	}
	model, err := hex.DecodeString(node.Model)
	if err != nil {
		return nil, fmt.Errorf("decode model payload: %w", err)
	}

	f, err := force.New(model)
	if err != nil {
		return nil, err
	}
	f.SetForceGroup(node.ForceGroup)
	f.SetUsesPeriodicBoundaryConditions(node.UsesPeriodic)
	if len(node.Particles) > 0 {
		indices := make([]int, len(node.Particles))
		for i, particle := range node.Particles {
			indices[i] = particle.Index
		}
		f.SetParticleIndices(indices)
	}
	for _, input := range node.Inputs.Inputs {
		decoded, err := decodeInput(input)
		if err != nil {
			return nil, err
		}
		f.AddInput(decoded)
	}
	for _, parameter := range node.Globals {
		value, err := strconv.ParseFloat(parameter.Default, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: invalid default %q", parameter.Name, parameter.Default)
		}
		f.AddGlobalParameter(parameter.Name, value)
	}
	for _, property := range node.Properties {
		if err := f.SetProperty(property.Name, property.Value); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func decodeInput(node inputNode) (force.Input, error) {
	shape := make(force.Shape, len(node.Dims))
	for i, dim := range node.Dims {
		shape[i] = dim.D
	}
	switch node.XMLName.Local {
	case "IntegerInput":
		values := make([]int64, len(node.Values))
		for i, value := range node.Values {
			v, err := strconv.ParseInt(value.V, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("input %q: invalid value %q", node.Name, value.V)
			}
			values[i] = v
		}
		return force.NewIntegerInput(node.Name, values, shape), nil
	case "FloatInput":
		values := make([]float32, len(node.Values))
		for i, value := range node.Values {
			v, err := strconv.ParseFloat(value.V, 32)
			if err != nil {
				return nil, fmt.Errorf("input %q: invalid value %q", node.Name, value.V)
			}
			values[i] = float32(v)
		}
		return force.NewFloatInput(node.Name, values, shape), nil
	default:
		return nil, fmt.Errorf("unknown input node %q", node.XMLName.Local)
	}
}
