package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/NiklasVd/tell/pkg/common"
)

const (
	cmdMsg        = "msg"
	cmdWhisper    = "whisper"
	cmdMulticast  = "multicast"
	cmdPeers      = "peers"
	cmdMetrics    = "metrics"
	cmdHistory    = "history"
	cmdConnect    = "connect"
	cmdDisconnect = "disconnect"
	cmdHelp       = "help"
	cmdQuit       = "quit"

	defaultHistoryLines = 10
)

var errUsage = errors.New("usage")

var usage = map[string]string{
	cmdMsg:        "msg <text>",
	cmdWhisper:    "whisper <name> <text>",
	cmdMulticast:  "multicast <name,name,...> <text>",
	cmdPeers:      "peers",
	cmdMetrics:    "metrics",
	cmdHistory:    "history [n]",
	cmdConnect:    "connect [host:port]",
	cmdDisconnect: "disconnect",
	cmdHelp:       "help",
	cmdQuit:       "quit",
}

var (
	clientCommands = []string{cmdMsg, cmdWhisper, cmdMulticast, cmdPeers, cmdMetrics, cmdHistory, cmdConnect, cmdDisconnect, cmdHelp, cmdQuit}
	serverCommands = []string{cmdPeers, cmdMetrics, cmdHelp, cmdQuit}
)

// command is one parsed console line.
type command struct {
	verb  string
	names []string
	text  string
	count int
}

func usageErr(verb string) error {
	return fmt.Errorf("%w: %s", errUsage, usage[verb])
}

// cut splits s at the first run of whitespace.
func cut(s string) (head, rest string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

// parseCommand parses a console line. An empty line yields a zero command.
func parseCommand(line string) (command, error) {
	verb, rest := cut(line)
	cmd := command{verb: strings.ToLower(verb)}

	switch cmd.verb {
	case "":
		return command{}, nil

	case cmdMsg:
		if rest == "" {
			return cmd, usageErr(cmd.verb)
		}
		cmd.text = rest

	case cmdWhisper:
		name, text := cut(rest)
		if name == "" || text == "" {
			return cmd, usageErr(cmd.verb)
		}
		cmd.names = []string{name}
		cmd.text = text

	case cmdMulticast:
		list, text := cut(rest)
		if list == "" || text == "" {
			return cmd, usageErr(cmd.verb)
		}
		for _, name := range strings.Split(list, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				return cmd, usageErr(cmd.verb)
			}
			cmd.names = append(cmd.names, name)
		}
		if len(cmd.names) > common.MAX_TARGET_IDS {
			return cmd, fmt.Errorf("too many recipients: %d, max %d", len(cmd.names), common.MAX_TARGET_IDS)
		}
		cmd.text = text

	case cmdHistory:
		cmd.count = defaultHistoryLines
		if rest != "" {
			n, err := strconv.Atoi(rest)
			if err != nil || n < 1 {
				return cmd, usageErr(cmd.verb)
			}
			cmd.count = n
		}

	case cmdConnect:
		cmd.text = rest

	case cmdPeers, cmdMetrics, cmdDisconnect, cmdHelp, cmdQuit:
		if rest != "" {
			return cmd, usageErr(cmd.verb)
		}

	default:
		return cmd, fmt.Errorf("unknown command %q, type help", verb)
	}
	return cmd, nil
}

func helpText(verbs []string) string {
	var b strings.Builder
	b.WriteString("commands:")
	for _, v := range verbs {
		b.WriteString("\n  ")
		b.WriteString(usage[v])
	}
	return b.String()
}
