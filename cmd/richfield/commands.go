package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"richfield/internal/auth"
	"richfield/internal/config"
	"richfield/internal/document"
	"richfield/internal/markup"
	"richfield/internal/rbac"
)

var errRoundTrip = errors.New("markup does not round-trip")

// readInput reads the markup named by args: a path, "-" or nothing for stdin.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}

func newParseCommand() *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "parse [file|-]",
		Short: "Print the parsed document as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(markup.Parse(input))
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "Print JSON on one line")
	return cmd
}

func newRenderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "render [file|-]",
		Short: "Print the canonical markup for the input",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), markup.Serialize(markup.Parse(input)))
			return nil
		},
	}
}

func newCountCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "count [file|-]",
		Short: "Print word and character counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			doc := markup.Parse(input)
			words, chars := document.WordCount(doc), document.TextLength(doc)
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]int{"words": words, "characters": chars})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "words: %d\ncharacters: %d\n", words, chars)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print counts as JSON")
	return cmd
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check [file|-]",
		Short: "Check that the canonical markup parses back to the same document",
		Long: `Parses the input, serializes it, and parses the result again. The command
fails when the two documents differ or when serializing the second document
does not reproduce the canonical markup.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			first := markup.Parse(input)
			canonical := markup.Serialize(first)
			second := markup.Parse(canonical)
			if !document.Equal(first, second) || markup.Serialize(second) != canonical {
				return fmt.Errorf("%w: %s", errRoundTrip, canonical)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "ok")
			if strings.TrimSpace(input) != canonical {
				fmt.Fprintf(out, "canonical form: %s\n", canonical)
			}
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		role   string
		ttl    time.Duration
		secret string
	)
	cmd := &cobra.Command{
		Use:   "token <name>",
		Short: "Mint a bearer token for the API",
		Long: `Signs a token with RICHFIELD_TOKEN_SECRET (or --secret). Unknown roles are
issued as viewer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("name is required")
			}
			cfg := config.Load()
			if secret == "" {
				secret = cfg.TokenSecret
			}
			if ttl <= 0 {
				ttl = cfg.AccessTTL
			}
			token, err := auth.NewToken([]byte(secret), name, name, string(rbac.Normalize(role)), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleEditor), "Role carried by the token (viewer, editor, owner, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to RICHFIELD_ACCESS_TTL_SECONDS)")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to RICHFIELD_TOKEN_SECRET)")
	return cmd
}
