package main

import (
	"fmt"
	"strings"
)

type dumpCmd struct {
	Args struct {
		Input  string `positional-arg-name:"SAVE" required:"true" description:"Save file"`
		Output string `positional-arg-name:"OUT" description:"Output file (default: stdout)"`
	} `positional-args:"true"`

	Format string `short:"f" long:"format" choice:"yaml" choice:"json" default:"yaml" description:"Output format"`
	All    bool   `short:"a" long:"all" description:"Include hidden items"`
}

// Execute dumps every keyed item of the save.
func (c *dumpCmd) Execute(_ []string) error {
	format := strings.ToLower(c.Format)
	if format == "" {
		format = "yaml"
	}

	w, err := openSave(root.Global, c.Args.Input)
	if err != nil {
		return err
	}

	d, err := dumpSave(w, c.All)
	if err != nil {
		return err
	}

	out, err := encode(d, format)
	if err != nil {
		return err
	}

	return writeOutput(c.Args.Output, out)
}

// dumpSave collects the keyed items and checksums of an open save.
func dumpSave(w *workspace, all bool) (saveDump, error) {
	d := saveDump{
		Template: w.tmpl.Name,
		Region:   w.sess.Region().Name,
		Size:     w.sess.Len(),
	}

	for _, n := range w.sess.Nodes() {
		if !dumpable(n) {
			continue
		}

		f, err := readField(w.sess, n)
		if err != nil {
			if quiet(err) {
				w.log.Info("item skipped", "key", n.Key, "err", err)
				continue
			}
			return d, fmt.Errorf("%s: %w", n.Key, err)
		}
		if f.Hidden && !all {
			continue
		}
		d.Fields = append(d.Fields, f)
	}

	for _, key := range w.sess.Checksums() {
		valid, err := w.sess.Validate(key)
		if err != nil {
			return d, fmt.Errorf("%s: %w", key, err)
		}

		cs := checksumDump{Key: key, Valid: valid}
		if stored, err := w.sess.GetInt(key); err == nil {
			cs.Stored = fmt.Sprintf("0x%X", stored)
		}
		d.Checksums = append(d.Checksums, cs)
	}

	return d, nil
}

type getCmd struct {
	Args struct {
		Input string   `positional-arg-name:"SAVE" required:"true" description:"Save file"`
		Keys  []string `positional-arg-name:"KEY" required:"1" description:"Item key (name#1, story/0)"`
	} `positional-args:"true"`
}

// Execute prints KEY=VALUE for each requested item.
func (c *getCmd) Execute(_ []string) error {
	w, err := openSave(root.Global, c.Args.Input)
	if err != nil {
		return err
	}

	for _, arg := range c.Args.Keys {
		t, err := parseTarget(arg)
		if err != nil {
			return err
		}

		v, err := readTarget(w.sess, t)
		if err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", arg, v)
	}

	return nil
}
