package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/invopop/yaml"

	"github.com/woozymasta/savetpl/internal/config"
	"github.com/woozymasta/savetpl/internal/hooks"
	"github.com/woozymasta/savetpl/internal/hooks/luahooks"
	"github.com/woozymasta/savetpl/internal/journal"
	"github.com/woozymasta/savetpl/internal/session"
	"github.com/woozymasta/savetpl/internal/template"
)

type globalOptions struct {
	Config       string `short:"c" long:"config" default:"savetpl.ini" description:"Settings file (ini)"`
	Template     string `short:"t" long:"template" description:"Game template (yaml/json/hcl), path or name in the template dir"`
	Hooks        string `long:"hooks" description:"Lua override module"`
	Region       string `short:"r" long:"region" description:"Force a validator region"`
	SkipValidate bool   `long:"skip-validate" description:"Open saves that match no region"`
	LogLevel     string `short:"l" long:"log-level" description:"Log level (debug, info, warn, error)"`
}

// settings loads the config file and environment, then applies the flags.
func (o globalOptions) settings() (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return cfg, err
	}

	if o.Hooks != "" {
		cfg.Hooks = o.Hooks
	}
	if o.LogLevel != "" {
		if _, err := config.ParseLevel(o.LogLevel); err != nil {
			return cfg, err
		}
		cfg.LogLevel = o.LogLevel
	}

	return cfg, nil
}

// workspace is an open save with everything needed to edit and store it.
type workspace struct {
	cfg  config.Config
	log  *slog.Logger
	path string
	orig []byte
	tmpl *template.Template
	sess *session.Session
}

// openSave loads the template and hooks named by the options and opens the
// save at path.
func openSave(o globalOptions, path string) (*workspace, error) {
	cfg, err := o.settings()
	if err != nil {
		return nil, err
	}
	log := cfg.NewLogger(os.Stderr)

	tmpl, err := loadTemplate(o.Template, cfg.TemplateDir)
	if err != nil {
		return nil, err
	}

	var reg *hooks.Registry
	if cfg.Hooks != "" {
		if reg, err = luahooks.Load(cfg.Hooks); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	sess, err := session.Open(tmpl, data, session.Options{
		Hooks:        reg,
		Logger:       log,
		Region:       o.Region,
		SkipValidate: o.SkipValidate,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug("save opened", "path", path, "template", tmpl.Name, "region", sess.Region().Name, "size", len(data))

	return &workspace{cfg: cfg, log: log, path: path, orig: data, tmpl: tmpl, sess: sess}, nil
}

// templateExts are tried in order for templates given by bare name.
var templateExts = []string{".yaml", ".yml", ".json", ".hcl"}

// loadTemplate loads name as a path, falling back to the template dir.
func loadTemplate(name, dir string) (*template.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("no template given (use --template)")
	}

	candidates := []string{name}
	if dir != "" && !filepath.IsAbs(name) {
		candidates = append(candidates, filepath.Join(dir, name))
		if filepath.Ext(name) == "" {
			for _, ext := range templateExts {
				candidates = append(candidates, filepath.Join(dir, name+ext))
			}
		}
	}

	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return template.Load(p)
		}
	}

	return nil, fmt.Errorf("template %q not found", name)
}

// store writes the session's buffer to out (the input when empty), keeping a
// backup of an overwritten input and journaling the edits.
func (w *workspace) store(out, journalPath string) (string, error) {
	data, err := w.sess.Save()
	if err != nil {
		return "", err
	}

	if out == "" {
		out = w.path
	}
	if w.cfg.Backup && sameFile(out, w.path) {
		if err := os.WriteFile(w.path+".bak", w.orig, 0o600); err != nil {
			return "", fmt.Errorf("backup: %w", err)
		}
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return "", err
	}

	if journalPath == "" {
		journalPath = w.cfg.Journal
	}
	if journalPath != "" {
		if err := w.record(journalPath, out, data); err != nil {
			return "", err
		}
	}

	return out, nil
}

// record appends the session's edits to the journal.
func (w *workspace) record(path, out string, result []byte) error {
	edits := w.sess.Edits()
	if len(edits) == 0 {
		return nil
	}

	store, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	digest, res := journal.Digest(w.orig), journal.Digest(result)
	entries := make([]journal.Entry, len(edits))
	for i, e := range edits {
		entries[i] = journal.Entry{
			Digest:   digest,
			Result:   res,
			Template: w.tmpl.Name,
			Path:     out,
			Key:      e.Key,
			Offset:   e.Offset,
			Old:      e.Old,
			New:      e.New,
		}
	}

	if err := store.Append(context.Background(), entries...); err != nil {
		return err
	}
	w.log.Debug("edits journaled", "journal", path, "count", len(entries), "result", res)

	return nil
}

// sameFile reports whether two paths name the same file.
func sameFile(a, b string) bool {
	sa, errA := os.Stat(a)
	sb, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}

	return os.SameFile(sa, sb)
}

// encode encodes v to the raw data.
func encode(v any, format string) ([]byte, error) {
	switch format {
	case "yaml":
		return yaml.Marshal(v)
	case "json":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}

// writeOutput writes data to path, or stdout when path is empty.
func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// target is a command-line item address: a key, optionally with "/N" for
// flag N of a bitflags item.
type target struct {
	Key  string
	Flag int // -1 when absent
}

// parseTarget splits "story/1" into key and flag index.
func parseTarget(s string) (target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return target{}, errors.New("empty key")
	}

	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return target{Key: s, Flag: -1}, nil
	}

	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 0 || i == 0 {
		return target{}, fmt.Errorf("bad flag address %q", s)
	}

	return target{Key: s[:i], Flag: n}, nil
}

// parseAssignment splits "KEY=VALUE".
func parseAssignment(s string) (target, string, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return target{}, "", fmt.Errorf("expected KEY=VALUE, got %q", s)
	}

	t, err := parseTarget(key)
	return t, value, err
}

// parseNumber accepts integers in any Go base prefix and decimals.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(n), nil
	}

	return strconv.ParseFloat(s, 64)
}

// formatNumber prints integral values without a fraction.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
