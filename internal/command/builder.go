package command

import (
	"strings"
)

// Step is one element of a shell pipeline.
type Step interface {
	String() string
}

// Command is a program name plus its ordered arguments. String quotes any
// argument containing characters outside the shell-safe set, so values that
// are already safe render byte-for-byte as written.
type Command struct {
	Name string
	Args []string
}

// Docker builds a `docker ...` command.
func Docker(args ...string) Command {
	return Command{Name: "docker", Args: args}
}

// Git builds a `git ...` command.
func Git(args ...string) Command {
	return Command{Name: "git", Args: args}
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// Raw is shell text inserted verbatim: user-supplied argument lists and
// constructs such as `RESULT=$?` that are not a single command.
type Raw string

func (r Raw) String() string { return string(r) }

// Pipeline chains steps with ` && `.
type Pipeline []Step

func (p Pipeline) String() string {
	parts := make([]string, 0, len(p))
	for _, s := range p {
		if txt := s.String(); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " && ")
}

// Quote single-quotes s unless it consists only of shell-safe characters.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if isSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./:@%+=,", r):
		default:
			return false
		}
	}
	return true
}
