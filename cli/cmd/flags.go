// Package cmd provides CLI commands for the ftecho binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for the client-side commands.
var (
	// AddrFlag selects the server to connect to.
	AddrFlag = &cli.StringFlag{
		Name:    "addr",
		Aliases: []string{"a"},
		Usage:   "Server address (host:port)",
		Value:   "127.0.0.1:9000",
		EnvVars: []string{"FTECHO_ADDR"},
	}

	// ChunkFlag sets the data-frame payload size for uploads.
	ChunkFlag = &cli.IntFlag{
		Name:  "chunk-size",
		Usage: "Upload chunk size in bytes",
		Value: 4096,
	}

	// TimeoutFlag bounds the connection attempt.
	TimeoutFlag = &cli.DurationFlag{
		Name:  "dial-timeout",
		Usage: "Connection timeout",
		Value: 0,
	}
)

// ClientFlags returns the shared flags for all client commands.
func ClientFlags() []cli.Flag {
	return []cli.Flag{
		AddrFlag,
		ChunkFlag,
		TimeoutFlag,
	}
}
