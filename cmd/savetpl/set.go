package main

import (
	"fmt"
)

type setCmd struct {
	Args struct {
		Input  string   `positional-arg-name:"SAVE" required:"true" description:"Save file"`
		Values []string `positional-arg-name:"KEY=VALUE" required:"1" description:"Assignment (gold=500, name#0=ABC, story/1=true, playtime=1:02:03)"`
	} `positional-args:"true"`

	Output  string `short:"o" long:"output" description:"Output save file (default: overwrite input)"`
	Raw     bool   `long:"raw" description:"Write numbers as stored integers, skipping operations and bounds"`
	Journal string `short:"j" long:"journal" description:"SQLite edit journal (overrides the config)"`
	DryRun  bool   `short:"n" long:"dry-run" description:"Apply and print the edits without saving"`
}

// Execute applies the assignments in order and saves the result.
func (c *setCmd) Execute(_ []string) error {
	w, err := openSave(root.Global, c.Args.Input)
	if err != nil {
		return err
	}

	for _, arg := range c.Args.Values {
		t, value, err := parseAssignment(arg)
		if err != nil {
			return err
		}
		if err := writeTarget(w.sess, t, value, c.Raw); err != nil {
			return err
		}
	}

	dirty := w.sess.Dirty()
	if c.DryRun {
		printEdits(w, dirty)
		return nil
	}

	out, err := w.store(c.Output, c.Journal)
	if err != nil {
		return err
	}

	printEdits(w, dirty)
	fmt.Printf("saved %s\n", out)

	return nil
}

// printEdits prints the session's write log and the checksums it dirtied.
func printEdits(w *workspace, dirty []string) {
	for _, e := range w.sess.Edits() {
		fmt.Printf("%-16s 0x%04X % X -> % X\n", e.Key, e.Offset, e.Old, e.New)
	}
	for _, key := range dirty {
		fmt.Printf("checksum %s: dirty\n", key)
	}
}

type repairCmd struct {
	Args struct {
		Input string `positional-arg-name:"SAVE" required:"true" description:"Save file"`
	} `positional-args:"true"`

	Output string `short:"o" long:"output" description:"Output save file (default: overwrite input)"`
}

// Execute recomputes every checksum that does not match and saves.
func (c *repairCmd) Execute(_ []string) error {
	w, err := openSave(root.Global, c.Args.Input)
	if err != nil {
		return err
	}

	repaired, err := repairAll(w)
	if err != nil {
		return err
	}
	if len(repaired) == 0 {
		fmt.Println("all checksums match")
		return nil
	}

	out, err := w.store(c.Output, "")
	if err != nil {
		return err
	}

	for _, key := range repaired {
		fmt.Printf("checksum %s: repaired\n", key)
	}
	fmt.Printf("saved %s\n", out)

	return nil
}

// repairAll repairs the checksums that fail validation. Outer checksums
// covering a repaired one are settled by Save.
func repairAll(w *workspace) ([]string, error) {
	var repaired []string
	for _, key := range w.sess.Checksums() {
		ok, err := w.sess.Validate(key)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		if err := w.sess.Repair(key); err != nil {
			return nil, err
		}
		repaired = append(repaired, key)
	}

	return repaired, nil
}
