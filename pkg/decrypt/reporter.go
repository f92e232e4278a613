package decrypt

import "fmt"

// Reporter receives human-readable progress lines.
type Reporter interface {
	Progress(msg string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(msg string)

func (f ReporterFunc) Progress(msg string) { f(msg) }

type nopReporter struct{}

func (nopReporter) Progress(string) {}

func (d *Decrypter) progressf(format string, args ...any) {
	d.reporter.Progress(fmt.Sprintf(format, args...))
}
