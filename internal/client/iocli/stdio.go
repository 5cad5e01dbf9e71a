package iocli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Stdio реализует IO поверх потоков процесса
type Stdio struct {
	in     *bufio.Reader
	out    io.Writer
	prompt io.Writer
	fd     int
	isTerm bool
}

// NewStdio создает IO на os.Stdin/os.Stdout; подсказки пишутся в os.Stderr,
// чтобы не смешиваться с выводом команд
func NewStdio() IO {
	fd := int(os.Stdin.Fd())
	return &Stdio{
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		prompt: os.Stderr,
		fd:     fd,
		isTerm: term.IsTerminal(fd),
	}
}

// NewStream создает IO на произвольных потоках (ввод никогда не терминал)
func NewStream(in io.Reader, out io.Writer) IO {
	return &Stdio{
		in:     bufio.NewReader(in),
		out:    out,
		prompt: io.Discard,
		fd:     -1,
	}
}

func (s *Stdio) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *Stdio) Println(a ...any) {
	_, _ = fmt.Fprintln(s.out, a...)
}

func (s *Stdio) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *Stdio) ReadInput(prompt string) (string, error) {
	_, _ = fmt.Fprint(s.prompt, prompt)
	input, err := s.in.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func (s *Stdio) ReadSecret(prompt string) (string, error) {
	if !s.isTerm {
		return s.ReadInput(prompt)
	}

	_, _ = fmt.Fprint(s.prompt, prompt)
	secret, err := term.ReadPassword(s.fd)
	_, _ = fmt.Fprintln(s.prompt)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
