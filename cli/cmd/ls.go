package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
)

// LsCommand returns the ls command: list the server's committed files.
func LsCommand() *cli.Command {
	return &cli.Command{
		Name:   "ls",
		Usage:  "List files on the server",
		Flags:  ClientFlags(),
		Action: lsAction,
	}
}

func lsAction(c *cli.Context) error {
	cl, err := dialClient(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	entries, err := cl.ListFiles()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\n", e.Name, e.Size)
	}
	return w.Flush()
}
