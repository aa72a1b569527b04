package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ftecho/iox"
)

// ResumeCommand returns the resume command: continue an interrupted upload.
// The server reports the partial's size via an offset-mismatch error when
// --offset disagrees, so the usual flow is to pass the offset it expects.
func ResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume an interrupted upload",
		ArgsUsage: "<path>",
		Flags: append(ClientFlags(),
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Remote name (default: the local basename)",
			},
			&cli.Int64Flag{
				Name:     "offset",
				Usage:    "Byte offset to resume from (the server partial's size)",
				Required: true,
			},
		),
		Action: resumeAction,
	}
}

func resumeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: ftecho resume --offset <n> <path>", 1)
	}
	path := c.Args().First()
	name := c.String("name")
	if name == "" {
		name = filepath.Base(path)
	}
	offset := c.Int64("offset")

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardClose(f)

	cl, err := dialClient(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	res, err := cl.ResumePut(name, f, offset)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("%s: resumed at %d, +%d bytes, sha256 %s\n", name, offset, res.Bytes, res.Digest)
	return nil
}
