package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msea200/clipshare/internal/dto"
)

func newRegisterCmd(c *cli) *cobra.Command {
	var req dto.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Username = args[0]
			if req.Password == "" {
				pw, err := c.readSecret("Password: ")
				if err != nil {
					return err
				}
				req.Password = pw
			}
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()
			if err := cl.Register(ctx, req); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			c.printf("Registered %s, run `notectl login %s` to sign in\n", req.Username, req.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Password, "password", "", "password (prompted when omitted)")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "display name shown on notes")
	return cmd
}

func newLoginCmd(c *cli) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and save the token locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				pw, err := c.readSecret("Password: ")
				if err != nil {
					return err
				}
				password = pw
			}
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()

			identity, err := cl.SignIn(ctx, args[0], password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if err := saveCredentials(c.credsPath, &credentials{Server: c.server, Token: cl.Token(), Identity: identity}); err != nil {
				return err
			}
			c.printf("Signed in as %s (%s)\n", identity.DisplayName, identity.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := removeCredentials(c.credsPath); err != nil {
				return err
			}
			c.printf("Signed out\n")
			return nil
		},
	}
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user as the server sees it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			if cl.Identity() == nil {
				c.printf("Not signed in\n")
				return nil
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()
			me, err := cl.Me(ctx)
			if err != nil {
				return fmt.Errorf("whoami: %w", err)
			}
			c.printf("%s <%s> role=%s id=%d\n", me.DisplayName, me.Email, me.Role, me.UserID)
			return nil
		},
	}
}

// readSecret 从输入读取一行。密码会回显，需要隐藏时用 --password 或管道输入。
func (c *cli) readSecret(prompt string) (string, error) {
	c.printf("%s", prompt)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
