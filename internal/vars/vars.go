// Package vars holds build information injected with -ldflags -X.
package vars

import (
	"fmt"
	"io"
	"os"
	"runtime"
)

// Set at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
	URL       = "https://github.com/woozymasta/savetpl"
)

// Print writes the build information to stdout.
func Print() { Fprint(os.Stdout) }

// Fprint writes the build information to w.
func Fprint(w io.Writer) {
	_, _ = fmt.Fprintf(w, "savetpl %s\n", Version)
	_, _ = fmt.Fprintf(w, "commit:  %s\n", Commit)
	_, _ = fmt.Fprintf(w, "built:   %s\n", BuildTime)
	_, _ = fmt.Fprintf(w, "go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(w, "url:     %s\n", URL)
}
