// Command onnxmd evaluates an ONNX neural-network potential on a particle
// configuration described by a YAML scene file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "onnxmd",
	Short: "Evaluate ONNX neural-network potentials on particle configurations",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the onnxmd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("onnxmd", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
