// Package cli implements the command-line interface for disteclat-prefix.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const usage = `usage: disteclat-prefix <command> [options]
commands:
  reduce   aggregate prefix groups and assign them to buckets
  lookup   print the bucket a prefix was assigned to
  dump     print the frames of a bucket or input record file
  verify   check a committed output against its manifest`

// Run executes the CLI with the given arguments. Command results are written
// to stdout; logs go to stderr.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "reduce":
		return runReduce(ctx, args[1:])
	case "lookup":
		return runLookup(args[1:], stdout)
	case "dump":
		return runDump(args[1:], stdout)
	case "verify":
		return runVerify(args[1:], stdout)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
