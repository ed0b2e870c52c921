package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"novel-ai-proxy/internal/prompts"
	"novel-ai-proxy/pkg/editor"
)

func newPromptCmd() *cobra.Command {
	var (
		preceding   string
		instruction string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "prompt <command> [text]",
		Short: "Render the prompt a command would send",
		Long: `Render the system and user messages for a command without calling the model.

The text is read from stdin when omitted or "-".

Examples:
  novelai prompt shorter "The rain fell for days and days."
  novelai prompt continue --context "Chapter one." "She opened the door."
  echo "a tavern" | novelai prompt add_location -i "smoky, near the docks" -o json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := prompts.ParseCommand(args[0])
			if err != nil {
				return err
			}

			text := "-"
			if len(args) == 2 {
				text = args[1]
			}
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			p, err := prompts.Resolve(prompts.Request{
				Command:       command,
				PrimaryText:   text,
				AuxiliaryText: instruction,
				Context:       &preceding,
			})
			if err != nil {
				return err
			}
			return renderPrompt(cmd.OutOrStdout(), p, output)
		},
	}
	cmd.Flags().StringVar(&preceding, "context", "", "preceding document text (continue); empty at the start of a document")
	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "free-text instruction (zap, add_*)")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

// renderPrompt writes p in the given format.
func renderPrompt(w io.Writer, p prompts.Prompt, format string) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(p)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newCommandsCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List available commands",
		Long: `List the commands and the request fields each one requires.

With --server the list is fetched from a running server instead of the
built-in registry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []editor.CommandInfo
			if server != "" {
				var err error
				infos, err = editor.NewClient(server).Commands(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				infos = localCommands()
			}
			return printCommands(cmd.OutOrStdout(), infos)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "base URL of a running server")
	return cmd
}

func localCommands() []editor.CommandInfo {
	cmds := prompts.Commands()
	out := make([]editor.CommandInfo, 0, len(cmds))
	for _, c := range cmds {
		info := editor.CommandInfo{Name: c.String()}
		for _, p := range c.Required() {
			info.Requires = append(info.Requires, string(p))
		}
		out = append(out, info)
	}
	return out
}

func printCommands(w io.Writer, infos []editor.CommandInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMAND\tREQUIRES")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\n", info.Name, strings.Join(info.Requires, ", "))
	}
	return tw.Flush()
}
