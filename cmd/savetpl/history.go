package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/woozymasta/savetpl/internal/journal"
)

type historyCmd struct {
	Args struct {
		Input  string `positional-arg-name:"SAVE" required:"true" description:"Save file"`
		Output string `positional-arg-name:"OUT" description:"Output file (default: stdout)"`
	} `positional-args:"true"`

	Journal string `short:"j" long:"journal" description:"SQLite edit journal (overrides the config)"`
	Format  string `short:"f" long:"format" choice:"text" choice:"yaml" choice:"json" default:"text" description:"Output format"`
}

type historyEntry struct {
	Time     string `json:"time"`
	Template string `json:"template,omitempty"`
	Key      string `json:"key"`
	Offset   string `json:"offset"`
	Old      string `json:"old"`
	New      string `json:"new"`
}

// Execute lists the journaled edits that produced the save.
func (c *historyCmd) Execute(_ []string) error {
	cfg, err := root.Global.settings()
	if err != nil {
		return err
	}

	path := c.Journal
	if path == "" {
		path = cfg.Journal
	}
	if path == "" {
		return errors.New("no journal configured (use --journal or SAVETPL_JOURNAL)")
	}

	data, err := os.ReadFile(c.Args.Input)
	if err != nil {
		return err
	}

	store, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List(context.Background(), journal.Digest(data))
	if err != nil {
		return err
	}

	list := make([]historyEntry, len(entries))
	for i, e := range entries {
		list[i] = historyEntry{
			Time:     e.CreatedAt.Local().Format(time.DateTime),
			Template: e.Template,
			Key:      e.Key,
			Offset:   fmt.Sprintf("0x%X", e.Offset),
			Old:      fmt.Sprintf("% X", e.Old),
			New:      fmt.Sprintf("% X", e.New),
		}
	}

	var out []byte
	switch strings.ToLower(c.Format) {
	case "", "text":
		out = historyText(list)
	default:
		if out, err = encode(list, strings.ToLower(c.Format)); err != nil {
			return err
		}
	}

	return writeOutput(c.Args.Output, out)
}

// historyText renders entries one per line.
func historyText(list []historyEntry) []byte {
	if len(list) == 0 {
		return []byte("no recorded edits\n")
	}

	var b strings.Builder
	for _, e := range list {
		fmt.Fprintf(&b, "%s  %-16s %-6s %s -> %s\n", e.Time, e.Key, e.Offset, e.Old, e.New)
	}

	return []byte(b.String())
}
