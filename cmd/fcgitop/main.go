// Command fcgitop is a terminal monitor for a running fcgid instance:
// it subscribes to the event dashboard's server-sent-events stream and
// renders a live, scrollable list of requests with a detail inspector,
// the list+inspector core of sql-tap's TUI adapted to FastCGI request
// events instead of SQL query events.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	fs := flag.NewFlagSet("fcgitop", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "fcgitop — terminal monitor for fcgid\n\nUsage:\n  fcgitop [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	target := fs.String("target", "http://127.0.0.1:8080", "fcgid event dashboard base URL")
	_ = fs.Parse(os.Args[1:])

	p := tea.NewProgram(newModel(*target), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fcgitop: %v\n", err)
		os.Exit(1)
	}
}
