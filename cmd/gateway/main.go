// Command gateway is the process entrypoint: cobra CLI surface (serve,
// version), wiring config -> configstore -> modelmap/balancer/status/
// forwarder -> httpapi, plus the adapter subpackages imported for their
// init()-time factory registration side effect (spec §4.5/§9 — "every
// supported AuthStyle must have a corresponding vendor subpackage
// imported").
//
// Grounded on the teacher's cmd/gateway and cmd/cli main functions: a
// thin command layer over an application wiring step, signal-driven
// graceful shutdown with a bounded drain timeout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/ngoclaw/llmgateway/internal/adapter/cookievendor"
	_ "github.com/ngoclaw/llmgateway/internal/adapter/jwtvendor"
	_ "github.com/ngoclaw/llmgateway/internal/adapter/refreshvendor"
	_ "github.com/ngoclaw/llmgateway/internal/adapter/signedvendor"
	_ "github.com/ngoclaw/llmgateway/internal/adapter/tokenvendor"
)

const (
	appName    = "llmgateway"
	appVersion = "0.1.0"
)

func main() {
	root := &cobra.Command{
		Use:   appName,
		Short: "OpenAI-compatible multi-vendor LLM gateway",
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s v%s\n", appName, appVersion)
			return nil
		},
	}
}
