// Command extract reads chat lines from stdin (or files) and prints the codes
// found in them, one per line. It runs the same matcher as the chat poller and
// is handy for testing a CODE_PATTERN against saved chat logs.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/spf13/pflag"

	"github.com/onnwee/codewatch/extract"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	pattern := fs.StringP("pattern", "p", os.Getenv("CODE_PATTERN"), "regular expression for codes (default matches XXXXX-XXXXX-XXXXX-XXXXX-XXXXX)")
	all := fs.BoolP("all", "a", false, "print every code in a line instead of the first")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	re, err := extract.Compile(*pattern)
	if err != nil {
		fmt.Fprintf(stderr, "extract: %v\n", err)
		return 2
	}

	inputs := fs.Args()
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}
	w := bufio.NewWriter(stdout)
	defer w.Flush()

	found := false
	for _, name := range inputs {
		ok, err := scanInput(name, stdin, w, re, *all)
		if err != nil {
			fmt.Fprintf(stderr, "extract: %v\n", err)
			return 1
		}
		found = found || ok
	}
	if !found {
		return 1
	}
	return 0
}

// openInput is swapped in tests.
var openInput = func(name string) (io.ReadCloser, error) { return os.Open(name) }

// scanInput scans one named input ("-" is stdin), closing it before returning.
func scanInput(name string, stdin io.Reader, w io.Writer, re *regexp.Regexp, all bool) (bool, error) {
	if name == "-" {
		return scan(stdin, w, re, all)
	}
	f, err := openInput(name)
	if err != nil {
		return false, err
	}
	defer f.Close()
	found, err := scan(f, w, re, all)
	if err != nil {
		return found, fmt.Errorf("%s: %w", name, err)
	}
	return found, nil
}

func scan(r io.Reader, w io.Writer, re *regexp.Regexp, all bool) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	found := false
	for sc.Scan() {
		line := sc.Text()
		var tokens []string
		if all {
			tokens = extract.ExtractAll(line, re)
		} else if tok, ok := extract.Extract(line, re); ok {
			tokens = []string{tok}
		}
		for _, tok := range tokens {
			found = true
			if _, err := fmt.Fprintln(w, tok); err != nil {
				return found, err
			}
		}
	}
	return found, sc.Err()
}
