// Command aiscore runs the image scoring pipeline: the HTTP API that accepts
// uploads and answers polls, the compute worker fed by the broker, and the
// schema migration.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "aiscore",
	Short:         "Asynchronous AI-generated image scoring",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
