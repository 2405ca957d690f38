package domain

import "strings"

// Command texts recognized in message events.
const (
	prefixAllowUser    = "allow user "
	prefixDisallowUser = "disallow user "
	textAllowGroup     = "lambda allow group"
	textDisallowGroup  = "lambda disallow group"
	textGroupOTP       = "lambda otp"
	textAllowMe        = "allow me"
)

// CommandKind enumerates the typed commands a message can carry.
type CommandKind int

const (
	// CommandNone marks plain text with no recognized command.
	CommandNone CommandKind = iota
	// CommandAllowUser adds a user to the allow-list (owner only).
	CommandAllowUser
	// CommandDisallowUser removes a user from the allow-list (owner only).
	CommandDisallowUser
	// CommandAllowGroup adds the current group to the allow-list.
	CommandAllowGroup
	// CommandDisallowGroup removes the current group from the allow-list.
	CommandDisallowGroup
	// CommandGroupOTP requests a passcode in a group chat.
	CommandGroupOTP
	// CommandAllowMe is the self-service verification request.
	CommandAllowMe
)

// Command is the typed parse of a message text. TargetUserID is populated only
// for the owner user commands.
type Command struct {
	Kind         CommandKind
	TargetUserID string
}

// ParseCommand classifies a message text into a typed command. The owner user
// commands take the trailing whitespace-separated token as the target id; the
// remaining commands match on exact text.
func ParseCommand(text string) Command {
	switch text {
	case textAllowGroup:
		return Command{Kind: CommandAllowGroup}
	case textDisallowGroup:
		return Command{Kind: CommandDisallowGroup}
	case textGroupOTP:
		return Command{Kind: CommandGroupOTP}
	case textAllowMe:
		return Command{Kind: CommandAllowMe}
	}

	if target, ok := trailingToken(text, prefixAllowUser); ok {
		return Command{Kind: CommandAllowUser, TargetUserID: target}
	}
	if target, ok := trailingToken(text, prefixDisallowUser); ok {
		return Command{Kind: CommandDisallowUser, TargetUserID: target}
	}

	return Command{Kind: CommandNone}
}

func trailingToken(text, prefix string) (string, bool) {
	if !strings.HasPrefix(text, prefix) {
		return "", false
	}

	rest := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(rest) == 0 {
		return "", false
	}

	return rest[len(rest)-1], true
}
