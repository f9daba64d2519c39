package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openmm/openmm-onnx/internal/onnxmeta"
)

var infoModel string

// modelInfo is the YAML document printed by the info command.
type modelInfo struct {
	IRVersion       int64    `yaml:"irVersion"`
	OpsetVersion    int64    `yaml:"opsetVersion"`
	Producer        string   `yaml:"producer,omitempty"`
	ProducerVersion string   `yaml:"producerVersion,omitempty"`
	GraphName       string   `yaml:"graphName,omitempty"`
	Inputs          []string `yaml:"inputs"`
	Outputs         []string `yaml:"outputs"`
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the graph metadata of an ONNX model",
	Run: func(cmd *cobra.Command, args []string) {
		info, err := onnxmeta.ParseFile(infoModel)
		if err != nil {
			logrus.Fatalf("Unable to read model: %v", err)
		}
		data, err := yaml.Marshal(modelInfo{
			IRVersion:       info.IRVersion,
			OpsetVersion:    info.OpsetVersion,
			Producer:        info.ProducerName,
			ProducerVersion: info.ProducerVersion,
			GraphName:       info.GraphName,
			Inputs:          info.Inputs,
			Outputs:         info.Outputs,
		})
		if err != nil {
			logrus.Fatalf("Unable to encode metadata: %v", err)
		}
		fmt.Print(string(data))
	},
}

func init() {
	infoCmd.Flags().StringVar(&infoModel, "model", "", "ONNX model file (required)")
	_ = infoCmd.MarkFlagRequired("model")

	rootCmd.AddCommand(infoCmd)
}
