// Command savetpl reads and edits binary save files described by a template.
package main

import (
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/woozymasta/savetpl/internal/vars"
)

type rootCmd struct {
	Global globalOptions `group:"Global Options"`

	Version  versionCmd  `command:"version" description:"Show version information"`
	Detect   detectCmd   `command:"detect" description:"Find the templates that accept a save"`
	Validate validateCmd `command:"validate" description:"Detect the region and verify checksums"`
	Dump     dumpCmd     `command:"dump" description:"Dump every item of a save"`
	Get      getCmd      `command:"get" description:"Print selected items"`
	Set      setCmd      `command:"set" description:"Write items and repair checksums"`
	Repair   repairCmd   `command:"repair" description:"Recompute mismatched checksums"`
	History  historyCmd  `command:"history" description:"List journaled edits of a save"`
}

var root rootCmd

func main() {
	parser := flags.NewParser(&root, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}

type versionCmd struct{}

// Execute prints the version information.
func (c *versionCmd) Execute(_ []string) error {
	vars.Print()
	return nil
}
