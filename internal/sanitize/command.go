package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrEmptyCommand indicates a blank command line.
	ErrEmptyCommand = errors.New("command cannot be empty")

	// ErrCommandNotAllowed indicates an executable missing from the allow-list.
	ErrCommandNotAllowed = errors.New("command not in allow-list")

	// ErrShellSyntax indicates shell operators in a command line. Commands are
	// executed directly, never through a shell.
	ErrShellSyntax = errors.New("command contains shell syntax")
)

// DefaultAllowedCommands are the executables the loop may launch for builds,
// captures, metrics and the companion backend.
var DefaultAllowedCommands = []string{
	"npm", "npx", "pnpm", "yarn", "node", "bun",
	"go", "make",
	"python", "python3", "uvicorn",
}

var (
	shellOperator = regexp.MustCompile(`^(&&|\|\||[;|&<>]|>>|2>&1)$`)
	shellSubst    = regexp.MustCompile("\\$\\(|\x60")
)

// SplitCommand splits a command line into arguments. Single and double
// quotes group words; there is no escaping.
func SplitCommand(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", line)
	}
	if inArg {
		args = append(args, cur.String())
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}

// ValidateCommand checks that argv[0] names an allowed executable and that no
// argument carries shell syntax. An empty allowed list uses
// DefaultAllowedCommands.
func ValidateCommand(argv []string, allowed []string) error {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return ErrEmptyCommand
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedCommands
	}

	name := filepath.Base(argv[0])
	ok := false
	for _, a := range allowed {
		if name == a {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotAllowed, name)
	}

	for _, arg := range argv {
		if shellOperator.MatchString(arg) || shellSubst.MatchString(arg) || strings.HasSuffix(arg, ";") {
			return fmt.Errorf("%w: %q", ErrShellSyntax, arg)
		}
	}
	return nil
}

// ParseCommand splits and validates a command line in one step.
func ParseCommand(line string, allowed []string) ([]string, error) {
	argv, err := SplitCommand(line)
	if err != nil {
		return nil, err
	}
	if err := ValidateCommand(argv, allowed); err != nil {
		return nil, err
	}
	return argv, nil
}
