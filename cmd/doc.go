// Package cmd implements the command-line interface of dSock. It provides commands
// for running a server and for talking to one as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a TCP server that logs (and optionally echoes) every payload
//   - connect: Connects to a server and sends stdin lines or a periodic hex payload
//   - bench: Measures round trip latency and throughput against an echo server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All socket settings can be given as flags or as DSOCK_<FLAG> environment variables,
// .env and .env.local files are loaded on start.
//
// See dsock -help for a list of all commands.
package cmd
