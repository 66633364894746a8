package repl

import (
	"sort"
	"strings"
)

var builtins = []string{"exit", "history", "quit"}

// Completer suggests command lines by prefix.
type Completer struct {
	commands []string
}

// NewCompleter creates a completer over commands and the shell
// builtins.
func NewCompleter(commands []string) *Completer {
	all := append(append([]string{}, commands...), builtins...)
	sort.Strings(all)
	return &Completer{commands: all}
}

// Complete returns the commands starting with prefix.
func (c *Completer) Complete(prefix string) []string {
	var out []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) {
			out = append(out, cmd)
		}
	}
	return out
}
