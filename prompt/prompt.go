// Package prompt reads answers from an interactive user.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrNoInput is returned when the input ends before an answer is read.
var ErrNoInput = errors.New("no input")

// Terminal asks questions on Out and reads answers from In.
type Terminal struct {
	in  *bufio.Reader
	fd  int // Terminal file descriptor of In, -1 when In is not a terminal
	out io.Writer
}

// NewTerminal returns a Terminal on stdin and stdout.
func NewTerminal() *Terminal {
	return New(os.Stdin, os.Stdout)
}

// New returns a Terminal reading from in and writing to out. Secret input is
// hidden only when in is a terminal.
func New(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{in: bufio.NewReader(in), fd: -1, out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
	}
	return t
}

// String prints label and returns the trimmed line typed.
func (t *Terminal) String(label string) (string, error) {
	fmt.Fprint(t.out, label)
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", ErrNoInput
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Secret prints label and reads a line without echoing it.
func (t *Terminal) Secret(label string) (string, error) {
	if t.fd < 0 {
		return t.String(label)
	}
	fmt.Fprint(t.out, label)
	b, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// YesNo asks until the answer is y/yes or n/no.
func (t *Terminal) YesNo(question string) (bool, error) {
	for {
		answer, err := t.String(question + " (y/n): ")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(t.out, `Please enter "y" or "n".`)
	}
}

// Int asks until the answer is an integer in [lo, hi].
func (t *Terminal) Int(question string, lo, hi int) (int, error) {
	for {
		answer, err := t.String(fmt.Sprintf("%s [%d-%d]: ", question, lo, hi))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= lo && n <= hi {
			return n, nil
		}
		fmt.Fprintf(t.out, "Please enter a number between %d and %d.\n", lo, hi)
	}
}
