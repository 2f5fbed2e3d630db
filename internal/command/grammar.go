package command

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"groupbot/internal/broadcast"
)

var (
	ErrUnknownCommand = errors.New("command: unknown command")
	// ErrScheduleSyntax marks "!tagall by ..." without a usable time. It is never answered.
	ErrScheduleSyntax   = errors.New("command: schedule syntax")
	ErrPermissionDenied = errors.New("command: admins only")
)

type Kind string

const (
	KindMenu      Kind = "menu"
	KindRules     Kind = "rules"
	KindInfo      Kind = "info"
	KindSchedule  Kind = "tagall_by"
	KindTagAll    Kind = "tagall"
	KindTagAdmins Kind = "tagadmins"
	KindKick      Kind = "kick"
)

// Command is a parsed command line.
type Command struct {
	Kind Kind
	// Time is the normalized "H:MM" for KindSchedule.
	Time string
	Raw  string
}

var scheduleRe = regexp.MustCompile(`by (\d{1,2}:\d{2})`)

// Parse recognizes a command in the trimmed text.
// Checks run in a fixed order, so "!tagall by 9:30" never reaches the plain
// "!tagall" branch.
func Parse(text string) (Command, error) {
	t := strings.TrimSpace(text)
	cmd := Command{Raw: t}

	switch {
	case t == "!menu":
		cmd.Kind = KindMenu
	case t == "!rules":
		cmd.Kind = KindRules
	case t == "!info":
		cmd.Kind = KindInfo
	case strings.HasPrefix(t, "!tagall") && strings.Contains(t, "by "):
		m := scheduleRe.FindStringSubmatch(t)
		if m == nil {
			return Command{}, fmt.Errorf("%w: %q", ErrScheduleSyntax, t)
		}
		norm, err := broadcast.NormalizeTime(m[1])
		if err != nil {
			return Command{}, fmt.Errorf("%w: %w", ErrScheduleSyntax, err)
		}
		cmd.Kind = KindSchedule
		cmd.Time = norm
	case strings.HasPrefix(t, "!tagall"):
		cmd.Kind = KindTagAll
	case t == "!tagadmins":
		cmd.Kind = KindTagAdmins
	case strings.HasPrefix(t, "!kick"):
		cmd.Kind = KindKick
	default:
		return Command{}, ErrUnknownCommand
	}
	return cmd, nil
}
