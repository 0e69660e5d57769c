// Package prompt implements the line-oriented questions used by the setup
// wizard and the interactive CLI paths.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompter reads answers from in and writes questions to out.
type Prompter struct {
	r *bufio.Reader
	w io.Writer
}

// New returns a Prompter over in and out.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{r: bufio.NewReader(in), w: out}
}

// Ask prints label and returns the trimmed answer, or defaultVal when the
// answer is empty. A final line without a newline is accepted.
func (p *Prompter) Ask(label, defaultVal string) (string, error) {
	if defaultVal != "" {
		fmt.Fprintf(p.w, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(p.w, "%s: ", label)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal, nil
	}
	return line, nil
}

// AskBool asks a yes/no question. Anything other than y or yes is a no.
func (p *Prompter) AskBool(label string, defaultVal bool) (bool, error) {
	def := "n"
	if defaultVal {
		def = "y"
	}
	ans, err := p.Ask(label+" (y/n)", def)
	if err != nil {
		return false, err
	}
	ans = strings.ToLower(ans)
	return ans == "y" || ans == "yes", nil
}

// Println writes a line to the prompt output.
func (p *Prompter) Println(a ...any) {
	fmt.Fprintln(p.w, a...)
}
