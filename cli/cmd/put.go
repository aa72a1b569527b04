package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ftecho/iox"
)

// PutCommand returns the put command: upload one file.
func PutCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Upload a file to the server",
		ArgsUsage: "<path>",
		Flags: append(ClientFlags(),
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Remote name (default: the local basename)",
			},
		),
		Action: putAction,
	}
}

func putAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: ftecho put <path>", 1)
	}
	path := c.Args().First()
	name := c.String("name")
	if name == "" {
		name = filepath.Base(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardClose(f)

	info, err := f.Stat()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	cl, err := dialClient(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	res, err := cl.PutFile(name, f, info.Size())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("%s: %d bytes stored, sha256 %s\n", name, res.Bytes, res.Digest)
	return nil
}
