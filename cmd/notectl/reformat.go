package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newReformatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reformat [text]",
		Short: "Ask the server's LLM proxy to reformat text; reads stdin when no text is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				raw, err := io.ReadAll(c.in)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				prompt = string(raw)
			}
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()

			result, err := cl.Reformat(ctx, prompt)
			if err != nil {
				return fmt.Errorf("reformat: %w", err)
			}
			c.printf("%s\n", result)
			return nil
		},
	}
}
