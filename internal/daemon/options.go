package daemon

import (
	"fmt"
	"os"
)

// options holds the parsed command-line arguments accepted by this
// daemon's minimal CLI surface.
type options struct {
	// blocklistPath overrides the configured blocklist file path.
	blocklistPath string

	// dryRun disables all system changes; intended actions are logged
	// instead of performed.
	dryRun bool

	// statusAction, enableAction, and disableAction each request a one-shot
	// action against an already-running instance (communicating over the
	// Control Interface) instead of starting the daemon itself.
	// forceRestoreDNSAction and testDNSResolutionAction are also one-shot
	// actions, but they run locally in this process and do not contact a
	// running instance.
	statusAction            bool
	enableAction            bool
	disableAction           bool
	forceRestoreDNSAction   bool
	testDNSResolutionAction bool

	// serviceAction, when non-empty, requests an OS service-manager action
	// (one of install, uninstall, start, stop, restart, status) instead of
	// starting the daemon itself.
	serviceAction string
}

// effect is a function run for its side effects, such as printing help and
// exiting, instead of proceeding to start the daemon.
type effect func() error

// arg describes one recognized command-line flag.
type arg struct {
	description   string
	longName      string
	updateNoValue func(o options) (options, error)
	updateValue   func(o options, v string) (options, error)
	effect        func(o options, exec string) (f effect, err error)
}

var blocklistPathArg = arg{
	description: "Path to the blocklist file.",
	longName:    "blocklist-path",
	updateValue: func(o options, v string) (options, error) {
		o.blocklistPath = v

		return o, nil
	},
}

var dryRunArg = arg{
	description:   "Log intended system changes without applying them.",
	longName:      "dry-run",
	updateNoValue: func(o options) (options, error) { o.dryRun = true; return o, nil },
}

var statusArg = arg{
	description:   "Print the running daemon's status and exit.",
	longName:      "status",
	updateNoValue: func(o options) (options, error) { o.statusAction = true; return o, nil },
}

var enableArg = arg{
	description:   "Enable blocking on the running daemon and exit.",
	longName:      "enable",
	updateNoValue: func(o options) (options, error) { o.enableAction = true; return o, nil },
}

var disableArg = arg{
	description:   "Disable blocking on the running daemon and exit.",
	longName:      "disable",
	updateNoValue: func(o options) (options, error) { o.disableAction = true; return o, nil },
}

var forceRestoreDNSArg = arg{
	description:   "Force-restore system DNS and exit, bypassing the running daemon.",
	longName:      "force-restore-dns",
	updateNoValue: func(o options) (options, error) { o.forceRestoreDNSAction = true; return o, nil },
}

var testDNSResolutionArg = arg{
	description:   "Probe external DNS resolution and exit.",
	longName:      "test-dns-resolution",
	updateNoValue: func(o options) (options, error) { o.testDNSResolutionAction = true; return o, nil },
}

// validServiceActions are the recognized values for --service.
var validServiceActions = map[string]bool{
	"install":   true,
	"uninstall": true,
	"start":     true,
	"stop":      true,
	"restart":   true,
	"status":    true,
}

var serviceArg = arg{
	description: "Perform an OS service-manager action (install, uninstall, start, stop, restart, status) and exit.",
	longName:    "service",
	updateValue: func(o options, v string) (options, error) {
		if !validServiceActions[v] {
			return o, fmt.Errorf("unrecognized --service action %q", v)
		}

		o.serviceAction = v

		return o, nil
	},
}

var helpArg = arg{
	description: "Print this help.",
	longName:    "help",
	effect: func(_ options, exec string) (f effect, err error) {
		return func() error { return printHelp(exec) }, nil
	},
}

var allArgs = []arg{
	blocklistPathArg,
	dryRunArg,
	statusArg,
	enableArg,
	disableArg,
	forceRestoreDNSArg,
	testDNSResolutionArg,
	serviceArg,
	helpArg,
}

func getUsageLines(exec string) (lines []string) {
	lines = []string{
		"Usage:",
		"",
		fmt.Sprintf("%s [options]", exec),
		"",
		"Options:",
	}

	for _, a := range allArgs {
		val := ""
		if a.updateValue != nil {
			val = " VALUE"
		}

		lines = append(lines, fmt.Sprintf("  %-28s %s", "--"+a.longName+val, a.description))
	}

	return lines
}

func printHelp(exec string) (err error) {
	for _, line := range getUsageLines(exec) {
		if _, err = fmt.Println(line); err != nil {
			return err
		}
	}

	return nil
}

// parseOptions parses ss, the process argument list (excluding argv[0]),
// against allArgs.
func parseOptions(exec string, ss []string) (o options, f effect, err error) {
	for i := 0; i < len(ss); i++ {
		v := ss[i]

		matched := false
		for _, a := range allArgs {
			if v != "--"+a.longName {
				continue
			}

			matched = true

			switch {
			case a.updateValue != nil:
				if i+1 >= len(ss) {
					return o, nil, fmt.Errorf("flag %q requires a value", v)
				}

				i++
				if o, err = a.updateValue(o, ss[i]); err != nil {
					return o, nil, err
				}
			case a.updateNoValue != nil:
				if o, err = a.updateNoValue(o); err != nil {
					return o, nil, err
				}
			case a.effect != nil:
				if f, err = a.effect(o, exec); err != nil {
					return o, nil, err
				}
			}

			break
		}

		if !matched {
			return o, nil, fmt.Errorf("unknown flag %q", v)
		}
	}

	return o, f, nil
}

// parseArgs parses os.Args.
func parseArgs() (o options, f effect, err error) {
	exec := os.Args[0]
	if len(os.Args) < 2 {
		return o, nil, nil
	}

	return parseOptions(exec, os.Args[1:])
}
