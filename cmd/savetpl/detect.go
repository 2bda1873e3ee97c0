package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/woozymasta/savetpl/internal/template"
	"github.com/woozymasta/savetpl/internal/validator"
)

type detectCmd struct {
	Args struct {
		Input string `positional-arg-name:"SAVE" required:"true" description:"Save file"`
	} `positional-args:"true"`

	Dir     string `short:"d" long:"dir" description:"Template directory (default: from config)"`
	Verbose bool   `short:"v" long:"verbose" description:"Verbose per-template output"`
}

// detection is a template whose validator accepts a save.
type detection struct {
	Path     string
	Template string
	Region   string
}

// Execute lists the templates whose validator accepts the save header.
func (c *detectCmd) Execute(_ []string) error {
	dir := c.Dir
	if dir == "" {
		cfg, err := root.Global.settings()
		if err != nil {
			return err
		}
		dir = cfg.TemplateDir
	}

	found, err := detectTemplates(dir, c.Args.Input, c.Verbose)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("no template in %s accepts %s", dir, c.Args.Input)
	}

	for _, d := range found {
		fmt.Printf("%s\t%s\t%s\n", d.Path, d.Template, d.Region)
	}

	return nil
}

// detectTemplates walks dir and validates the save's header against every
// template found there. Templates that fail to load are skipped.
func detectTemplates(dir, save string, verbose bool) ([]detection, error) {
	var found []detection

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "skip: %s (walk error)\n", path)
			}
			return nil
		}
		if d.IsDir() || !slices.Contains(templateExts, strings.ToLower(filepath.Ext(path))) {
			return nil
		}

		tmpl, err := template.Load(path)
		if err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "skip: %s (%v)\n", path, err)
			}
			return nil
		}

		region, _, err := validator.ValidateFile(tmpl.Validator, save)
		switch {
		case errors.Is(err, validator.ErrInvalidSave):
			if verbose {
				fmt.Fprintf(os.Stderr, "reject: %s\n", path)
			}
			return nil
		case err != nil:
			return err
		}

		found = append(found, detection{Path: path, Template: tmpl.Name, Region: region.Name})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}
