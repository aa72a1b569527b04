package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ftecho/client"
)

// dialClient builds a connected client from the shared flags.
func dialClient(c *cli.Context) (*client.Client, error) {
	return client.Dial(c.String("addr"), client.Options{
		ChunkSize:   c.Int("chunk-size"),
		DialTimeout: c.Duration("dial-timeout"),
	})
}
