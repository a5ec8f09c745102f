package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dSock/cmd/bench"
	"github.com/ValentinKolb/dSock/cmd/connect"
	"github.com/ValentinKolb/dSock/cmd/serve"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dsock",
		Short: "tcp connection toolkit",
		Long: fmt.Sprintf(`dSock (v%s)

A TCP connection-management library and toolkit written in Go:
asynchronous, ordered send and receive queues per connection,
client connectors with reconnect backoff and server acceptors.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dSock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dSock v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(connect.ConnectCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
