package version

import (
	"fmt"
	"io"
	"runtime"
)

// Set at build time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("runway %s (commit %s, built %s, %s/%s)", Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
}

func PrintBanner(w io.Writer) {
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                                                    ║")
	fmt.Fprintln(w, "║     ██████╗ ██╗   ██╗███╗   ██╗██╗    ██╗ █████╗   ║")
	fmt.Fprintln(w, "║     ██╔══██╗██║   ██║████╗  ██║██║    ██║██╔══██╗  ║")
	fmt.Fprintln(w, "║     ██████╔╝██║   ██║██╔██╗ ██║██║ █╗ ██║███████║  ║")
	fmt.Fprintln(w, "║     ██╔══██╗██║   ██║██║╚██╗██║██║███╗██║██╔══██║  ║")
	fmt.Fprintln(w, "║     ██║  ██║╚██████╔╝██║ ╚████║╚███╔███╔╝██║  ██║  ║")
	fmt.Fprintln(w, "║     ╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═══╝ ╚══╝╚══╝ ╚═╝  ╚═╝  ║")
	fmt.Fprintln(w, "║                                                    ║")
	fmt.Fprintln(w, "║            Run and supervise site servers          ║")
	fmt.Fprintln(w, "║                                                    ║")
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════╝")
	fmt.Fprintf(w, "Version: %s\n\n", Version)
}
