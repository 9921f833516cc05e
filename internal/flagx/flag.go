// Package flagx contains helpers for layered command-line parsing, where
// several components each parse only the flags they own out of os.Args.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs returns only the arguments belonging to the allowed flags,
// keeping each flag together with its value. Both "-f value" and "-f=value"
// forms are recognized. Unknown flags are dropped so that a FlagSet parsing
// the result never fails on flags owned by another component.
func FilterArgs(args []string, allowed []string) []string {
	isAllowed := func(name string) bool {
		for _, a := range allowed {
			if name == a {
				return true
			}
		}
		return false
	}

	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, _, hasValue := strings.Cut(arg, "=")
		if !isAllowed(name) {
			continue
		}
		out = append(out, arg)
		if !hasValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// JsonConfigFlags returns the JSON config file path from the -c/-config
// flags, or an empty string if neither is present.
func JsonConfigFlags() string {
	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("jsonconfig", flag.ContinueOnError)
	short := fs.String("c", "", "path to json config file")
	long := fs.String("config", "", "path to json config file")
	if err := fs.Parse(args); err != nil {
		return ""
	}
	if *long != "" {
		return *long
	}
	return *short
}
