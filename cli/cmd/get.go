package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ftecho/iox"
)

// GetCommand returns the get command: download one file.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Download a file from the server",
		ArgsUsage: "<name>",
		Flags: append(ClientFlags(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Local destination path (default: the remote name)",
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Continue a partial local download from its current size",
			},
		),
		Action: getAction,
	}
}

func getAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: ftecho get <name>", 1)
	}
	name := c.Args().First()
	dest := c.String("output")
	if dest == "" {
		dest = filepath.Base(name)
	}

	var offset int64
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if c.Bool("resume") {
		if info, err := os.Stat(dest); err == nil {
			offset = info.Size()
		}
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	out, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardClose(out)

	cl, err := dialClient(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	if offset > 0 {
		res, err := cl.ResumeGet(name, offset, out)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Printf("%s: resumed at %d, +%d bytes, sha256(tail) %s\n", name, offset, res.Bytes, res.Digest)
		return nil
	}

	res, err := cl.GetFile(name, out)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("%s: %d bytes, sha256 %s\n", name, res.Bytes, res.Digest)
	return nil
}
