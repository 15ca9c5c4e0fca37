package cli

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Prompter asks questions on a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Ask repeats question until one of accepted is typed and returns it. An
// empty line or end of input picks the last accepted answer.
func (p *Prompter) Ask(question string, accepted ...string) string {
	if len(accepted) == 0 {
		accepted = []string{"y", "n"}
	}
	fallback := accepted[len(accepted)-1]
	for {
		fmt.Fprintf(p.out, "%s [%s] ", question, strings.Join(accepted, "/"))
		line, err := p.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "" && err != nil {
			fmt.Fprintln(p.out)
			return fallback
		}
		if answer == "" {
			return fallback
		}
		if slices.Contains(accepted, answer) {
			return answer
		}
		if err != nil {
			fmt.Fprintln(p.out)
			return fallback
		}
	}
}

// Confirm asks a y/n question that defaults to no.
func (p *Prompter) Confirm(question string) bool {
	return p.Ask(question, "y", "n") == "y"
}
