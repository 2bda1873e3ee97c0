package main

import (
	"fmt"
)

type validateCmd struct {
	Args struct {
		Input string `positional-arg-name:"SAVE" required:"true" description:"Save file"`
	} `positional-args:"true"`
}

// Execute detects the save's region and reports every checksum.
func (c *validateCmd) Execute(_ []string) error {
	w, err := openSave(root.Global, c.Args.Input)
	if err != nil {
		return err
	}

	region := w.sess.Region().Name
	if region == "" {
		region = "-"
	}
	fmt.Printf("template: %s\n", w.tmpl.Name)
	fmt.Printf("region: %s\n", region)

	var bad int
	for _, key := range w.sess.Checksums() {
		ok, err := w.sess.Validate(key)
		switch {
		case err != nil:
			bad++
			fmt.Printf("checksum %s: %v\n", key, err)
		case ok:
			fmt.Printf("checksum %s: ok\n", key)
		default:
			bad++
			fmt.Printf("checksum %s: mismatch\n", key)
		}
	}

	if bad > 0 {
		return fmt.Errorf("%d of %d checksums do not match", bad, len(w.sess.Checksums()))
	}

	return nil
}
