// Package prompts maps the closed set of editing commands to fully rendered
// system/user prompt pairs.
package prompts

import "fmt"

// Command identifies one text transformation the editor can request.
type Command string

// Known commands. The set is closed: anything else is rejected by Resolve.
const (
	CommandContinue         Command = "continue"
	CommandImprove          Command = "improve"
	CommandShorter          Command = "shorter"
	CommandLonger           Command = "longer"
	CommandFix              Command = "fix"
	CommandZap              Command = "zap"
	CommandEmotionIncrease  Command = "emotion_increase"
	CommandEmotionDecrease  Command = "emotion_decrease"
	CommandConflictIncrease Command = "conflict_increase"
	CommandConflictDecrease Command = "conflict_decrease"
	CommandPlotTwist        Command = "plot_twist"
	CommandForeshadowing    Command = "foreshadowing"
	CommandAddCharacter     Command = "add_character"
	CommandAddLocation      Command = "add_location"
	CommandAddItem          Command = "add_item"
	CommandAddExperience    Command = "add_experience"
)

// allCommands lists every command in menu order.
var allCommands = []Command{
	CommandContinue,
	CommandImprove,
	CommandShorter,
	CommandLonger,
	CommandFix,
	CommandZap,
	CommandEmotionIncrease,
	CommandEmotionDecrease,
	CommandConflictIncrease,
	CommandConflictDecrease,
	CommandPlotTwist,
	CommandForeshadowing,
	CommandAddCharacter,
	CommandAddLocation,
	CommandAddItem,
	CommandAddExperience,
}

// Commands returns a copy of the known command set.
func Commands() []Command {
	out := make([]Command, len(allCommands))
	copy(out, allCommands)
	return out
}

// ParseCommand converts a wire identifier into a Command.
func ParseCommand(s string) (Command, error) {
	c := Command(s)
	if _, ok := templates[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return c, nil
}

// Valid reports whether c belongs to the known command set.
func (c Command) Valid() bool {
	_, ok := templates[c]
	return ok
}

func (c Command) String() string {
	return string(c)
}

// Param names a request field a command may require.
type Param string

const (
	ParamPrimaryText   Param = "primaryText"
	ParamContext       Param = "context"
	ParamAuxiliaryText Param = "auxiliaryText"
)

// Required returns the request fields c needs to resolve.
func (c Command) Required() []Param {
	t, ok := templates[c]
	if !ok {
		return nil
	}
	return append([]Param(nil), t.requires...)
}
