package prompts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownCommand is returned for identifiers outside the command set.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingParameter is returned when a command-specific field is absent.
	ErrMissingParameter = errors.New("missing parameter")
)

// Request carries the text a command operates on.
type Request struct {
	Command Command
	// PrimaryText is the selection (or, for continue, the selected tail).
	PrimaryText string
	// AuxiliaryText is the freeform instruction for zap and add_* commands.
	AuxiliaryText string
	// Context is the preceding document text, used by continue. It may be
	// empty when the selection starts the document, but nil means absent.
	Context *string
}

// Prompt is a fully rendered instruction pair for the model.
type Prompt struct {
	System string `json:"system" yaml:"system"`
	User   string `json:"user" yaml:"user"`
}

type template struct {
	system   string
	requires []Param
	render   func(Request) string
}

const (
	markdownHint   = "Use Markdown formatting when appropriate."
	lengthHint     = "Keep the response similar in length to the original text, with a maximum of one paragraph extra. "
	onlyResultHint = "Return only the modified text without any explanations or comments. "
)

func existingText(r Request) string {
	return "The existing text is: " + r.PrimaryText
}

// narrative builds the template shared by the tone and plot commands.
func narrative(persona string) template {
	return template{
		system:   persona + lengthHint + onlyResultHint + markdownHint,
		requires: []Param{ParamPrimaryText},
		render:   existingText,
	}
}

// worldBuilding builds the template for an add_* command.
func worldBuilding(element, focus string) template {
	return template{
		system: "You are an AI writing assistant that weaves new story elements into existing text. " +
			"You will receive a passage and a description of a " + element + " to introduce. " +
			focus +
			"Integrate the new details naturally so the passage reads as a single coherent piece. " +
			lengthHint + onlyResultHint + markdownHint,
		requires: []Param{ParamPrimaryText, ParamAuxiliaryText},
		render: func(r Request) string {
			return fmt.Sprintf("The existing text is: %s\n\nAdd this %s: %s", r.PrimaryText, element, r.AuxiliaryText)
		},
	}
}

var templates = map[Command]template{
	CommandContinue: {
		system: "You are an AI writing assistant that continues existing text based on context. " +
			"You will receive previous context and a selected portion of text. " +
			"Use the context to understand the overall narrative, but continue directly from the selected text. " +
			lengthHint +
			"Maintain the same style, tone, and voice as the existing text. " +
			"Return only the generated continuation without any explanations, comments, or metadata. " +
			markdownHint,
		requires: []Param{ParamContext, ParamPrimaryText},
		render: func(r Request) string {
			return fmt.Sprintf("Previous context: %s\n\nSelected text to continue from: %s\n\n"+
				"Please continue the text from where the selection ends, maintaining consistency with both the selection and the previous context.",
				*r.Context, r.PrimaryText)
		},
	},
	CommandImprove: {
		system: "You are an AI writing assistant that improves existing text. " +
			"Return only the improved version without any explanations or comments. " +
			lengthHint + markdownHint,
		requires: []Param{ParamPrimaryText},
		render:   existingText,
	},
	CommandShorter: {
		system:   "You are an AI writing assistant that shortens existing text. " + markdownHint,
		requires: []Param{ParamPrimaryText},
		render:   existingText,
	},
	CommandLonger: {
		system:   "You are an AI writing assistant that lengthens existing text. " + markdownHint,
		requires: []Param{ParamPrimaryText},
		render:   existingText,
	},
	CommandFix: {
		system: "You are an AI writing assistant that fixes grammar and spelling errors in existing text. " +
			"Limit your response to no more than 200 characters, but make sure to construct complete sentences. " +
			markdownHint,
		requires: []Param{ParamPrimaryText},
		render:   existingText,
	},
	CommandZap: {
		system: "You are an AI writing assistant that generates text based on a prompt. " +
			"You take an input from the user and a command for manipulating the text. " +
			onlyResultHint + markdownHint,
		requires: []Param{ParamPrimaryText, ParamAuxiliaryText},
		render: func(r Request) string {
			return fmt.Sprintf("For this text: %s. You have to respect the command: %s", r.PrimaryText, r.AuxiliaryText)
		},
	},
	CommandEmotionIncrease: narrative("You are an AI writing assistant that enhances emotional content. " +
		"Make the text more emotionally charged and impactful, adding more emotional depth and resonance. " +
		"Focus on character feelings, emotional reactions, and sensory details that evoke emotions. "),
	CommandEmotionDecrease: narrative("You are an AI writing assistant that moderates emotional content. " +
		"Make the text more emotionally neutral and objective, focusing on facts and events rather than feelings. " +
		"Maintain the story but reduce emotional language and dramatic elements. "),
	CommandConflictIncrease: narrative("You are an AI writing assistant that enhances conflict and tension. " +
		"Add or amplify elements of conflict, whether internal, interpersonal, or situational. " +
		"Introduce or heighten obstacles, disagreements, or challenges. "),
	CommandConflictDecrease: narrative("You are an AI writing assistant that reduces conflict and tension. " +
		"Soften or resolve elements of conflict while maintaining the story's progression. " +
		"Focus on understanding, resolution, or peaceful development of the narrative. "),
	CommandPlotTwist: narrative("You are an AI writing assistant that adds unexpected plot developments. " +
		"Create a surprising but logical twist that fits within the existing narrative context. " +
		"The twist should be unexpected but believable, adding intrigue without breaking story coherence. "),
	CommandForeshadowing: narrative("You are an AI writing assistant that adds subtle foreshadowing. " +
		"Insert delicate hints or clues about future events or developments. " +
		"The foreshadowing should be subtle enough to not be obvious on first reading, but clear in retrospect. "),
	CommandAddCharacter: worldBuilding("character",
		"Show the character through appearance, behaviour, and dialogue rather than exposition. "),
	CommandAddLocation: worldBuilding("location",
		"Ground the location in concrete sensory detail and let it shape the mood of the scene. "),
	CommandAddItem: worldBuilding("item",
		"Give the item a physical presence in the scene and a reason for the characters to notice it. "),
	CommandAddExperience: worldBuilding("experience",
		"Convey the sensory and emotional experience through the point-of-view character. "),
}

func init() {
	if len(templates) != len(allCommands) {
		panic(fmt.Sprintf("prompts: %d templates for %d commands", len(templates), len(allCommands)))
	}
	for _, c := range allCommands {
		if _, ok := templates[c]; !ok {
			panic("prompts: no template for command " + string(c))
		}
	}
}

// Resolve renders the prompt for req. It performs no I/O and always
// produces the same Prompt for the same Request.
func Resolve(req Request) (Prompt, error) {
	t, ok := templates[req.Command]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: %q", ErrUnknownCommand, string(req.Command))
	}

	for _, p := range t.requires {
		if !present(req, p) {
			return Prompt{}, fmt.Errorf("%w: %s requires %s", ErrMissingParameter, req.Command, p)
		}
	}

	return Prompt{System: t.system, User: t.render(req)}, nil
}

// present reports whether req carries p. Context only has to be set;
// the text fields must hold more than whitespace.
func present(req Request, p Param) bool {
	switch p {
	case ParamPrimaryText:
		return !isBlank(req.PrimaryText)
	case ParamContext:
		return req.Context != nil
	case ParamAuxiliaryText:
		return !isBlank(req.AuxiliaryText)
	}
	return false
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
