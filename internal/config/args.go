package config

import (
	"os"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// maxExpandDepth bounds @file nesting so that a file including itself fails
// instead of recursing forever.
const maxExpandDepth = 16

// ExpandArgs replaces every "@path" argument with the shell-style tokens of
// the file at path, recursively. Text from '#' to the end of a line is a
// comment.
func ExpandArgs(args []string) ([]string, error) {
	return expandArgs(args, 0)
}

func expandArgs(args []string, depth int) ([]string, error) {
	if depth > maxExpandDepth {
		return nil, errors.Errorf("@file arguments nested deeper than %d", maxExpandDepth)
	}

	out := make([]string, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, "@") {
			out = append(out, arg)
			continue
		}

		path := arg[1:]
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading argument file '%s'", path)
		}
		tokens, err := shlex.Split(string(data))
		if err != nil {
			return nil, errors.Wrapf(err, "splitting argument file '%s'", path)
		}
		expanded, err := expandArgs(tokens, depth+1)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding '%s'", arg)
		}
		out = append(out, expanded...)
	}
	return out, nil
}
