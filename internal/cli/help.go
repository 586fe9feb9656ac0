package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/allyourbase/ayb-twilio/internal/cli/ui"
)

const (
	groupMessaging = "messaging"
	groupReceiver  = "receiver"
	groupTools     = "tools"
)

var commandGroups = map[string]string{
	"send":    groupMessaging,
	"message": groupMessaging,
	"verify":  groupMessaging,
	"phone":   groupMessaging,

	"serve":   groupReceiver,
	"history": groupReceiver,

	"signature": groupTools,
	"config":    groupTools,
	"version":   groupTools,
}

// initHelp wires up styled help/usage rendering and command groups.
func initHelp() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupMessaging, Title: "MESSAGING"},
		&cobra.Group{ID: groupReceiver, Title: "CALLBACKS"},
		&cobra.Group{ID: groupTools, Title: "TOOLS & CONFIGURATION"},
	)
	for _, cmd := range rootCmd.Commands() {
		if gid, ok := commandGroups[cmd.Name()]; ok {
			cmd.GroupID = gid
		}
	}
	rootCmd.SetHelpFunc(styledHelp)
	rootCmd.SetUsageFunc(func(cmd *cobra.Command) error {
		styledHelp(cmd, nil)
		return nil
	})
}

// helpWriter renders help sections to stderr.
type helpWriter struct {
	w io.Writer
	c bool
}

func (h helpWriter) section(title string, body func()) {
	fmt.Fprintln(h.w, heading(title, h.c))
	body()
	fmt.Fprintln(h.w)
}

// code prints each non-empty line of s as an indented example.
func (h helpWriter) code(s string) {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			fmt.Fprintf(h.w, "  %s\n", green(line, h.c))
		}
	}
}

func styledHelp(cmd *cobra.Command, _ []string) {
	h := helpWriter{w: cmd.ErrOrStderr(), c: colorEnabled()}
	fmt.Fprintln(h.w)

	switch {
	case cmd == rootCmd:
		fmt.Fprintf(h.w, "  %s %s\n\n", ui.BrandEmoji, boldCyan("ayb-twilio", h.c))
		for _, line := range strings.Split(cmd.Long, "\n") {
			switch {
			case strings.TrimSpace(line) == "":
				fmt.Fprintln(h.w)
			case strings.HasPrefix(line, "  "):
				fmt.Fprintf(h.w, "    %s\n", green(strings.TrimSpace(line), h.c))
			default:
				fmt.Fprintf(h.w, "  %s\n", dim(line, h.c))
			}
		}
	case cmd.Long != "":
		for _, line := range strings.Split(cmd.Long, "\n") {
			fmt.Fprintf(h.w, "  %s\n", line)
		}
	case cmd.Short != "":
		fmt.Fprintf(h.w, "  %s\n", cmd.Short)
	}
	fmt.Fprintln(h.w)

	useLine := cmd.UseLine()
	if cmd.HasAvailableSubCommands() {
		useLine = cmd.CommandPath() + " [command]"
	}
	h.section("USAGE", func() { fmt.Fprintf(h.w, "  %s\n", useLine) })

	if cmd.Example != "" {
		h.section("EXAMPLES", func() { h.code(cmd.Example) })
	}

	printCommands(h, cmd)
	printFlags(h, cmd)

	if cmd == rootCmd {
		h.section("ENVIRONMENT", func() {
			fmt.Fprintf(h.w, "  %s  %s\n", green("AYB_TWILIO_ACCOUNT_SID", h.c), dim("# or TWILIO_ACCOUNT_SID", h.c))
			fmt.Fprintf(h.w, "  %s   %s\n", green("AYB_TWILIO_AUTH_TOKEN", h.c), dim("# or TWILIO_AUTH_TOKEN", h.c))
		})
	}
	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(h.w, dim(fmt.Sprintf("Use \"%s [command] --help\" for more information about a command.", cmd.CommandPath()), h.c))
		fmt.Fprintln(h.w)
	}
}

// printCommands lists subcommands, under their group headings when the
// command defines groups.
func printCommands(h helpWriter, cmd *cobra.Command) {
	byGroup := map[string][]*cobra.Command{}
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() {
			byGroup[sub.GroupID] = append(byGroup[sub.GroupID], sub)
		}
	}
	for _, g := range cmd.Groups() {
		if cmds := byGroup[g.ID]; len(cmds) > 0 {
			h.section(g.Title, func() { printCommandList(h, cmds) })
		}
	}
	if cmds := byGroup[""]; len(cmds) > 0 {
		title := "COMMANDS"
		if len(cmd.Groups()) > 0 {
			title = "OTHER"
		}
		h.section(title, func() { printCommandList(h, cmds) })
	}
}

func printCommandList(h helpWriter, cmds []*cobra.Command) {
	width := 0
	for _, c := range cmds {
		width = max(width, len(c.Name()))
	}
	for _, c := range cmds {
		fmt.Fprintf(h.w, "  %s%s\n", bold(fmt.Sprintf("%-*s", width+4, c.Name()), h.c), dim(c.Short, h.c))
	}
}

// printFlags shows every flag on the root; subcommands split local and
// inherited flags.
func printFlags(h helpWriter, cmd *cobra.Command) {
	sets := []struct {
		title string
		fs    *pflag.FlagSet
	}{{"FLAGS", cmd.LocalNonPersistentFlags()}, {"GLOBAL FLAGS", cmd.InheritedFlags()}}
	if cmd == rootCmd {
		sets = sets[:1]
		sets[0].fs = cmd.Flags()
	}
	for _, s := range sets {
		if hasVisibleFlags(s.fs) {
			h.section(s.title, func() { printFlagSet(h, s.fs) })
		}
	}
}

func printFlagSet(h helpWriter, fs *pflag.FlagSet) {
	for _, line := range strings.Split(strings.TrimRight(fs.FlagUsages(), "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			fmt.Fprintln(h.w, colorizeFlag(line, h.c))
		}
	}
}

// colorizeFlag colors the flag name cyan and dims its description.
func colorizeFlag(line string, c bool) string {
	if !c {
		return line
	}
	trimmed := strings.TrimLeft(line, " ")
	indent := line[:len(line)-len(trimmed)]
	name, desc, ok := splitFlagLine(trimmed)
	if !ok {
		return indent + cyan(trimmed, c)
	}
	return indent + cyan(name, c) + "   " + dim(desc, c)
}

// splitFlagLine splits a pflag usage line at the first run of three
// spaces, which separates the flag from its description.
func splitFlagLine(s string) (name, desc string, ok bool) {
	i := strings.Index(s, "   ")
	if i < 0 {
		return s, "", false
	}
	desc = strings.TrimLeft(s[i:], " ")
	if desc == "" {
		return s, "", false
	}
	return strings.TrimRight(s[:i], " "), desc, true
}

func hasVisibleFlags(fs *pflag.FlagSet) bool {
	visible := false
	fs.VisitAll(func(f *pflag.Flag) {
		visible = visible || !f.Hidden
	})
	return visible
}

func heading(title string, c bool) string {
	return boldCyan(title, c)
}
