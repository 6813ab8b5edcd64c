package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msea200/clipshare/internal/client"
	"github.com/msea200/clipshare/internal/service"
)

func newAdminCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Room catalog operations, admin role required",
	}
	cmd.AddCommand(newAdminListCmd(c), newAdminToggleCmd(c), newAdminDeleteCmd(c))
	return cmd
}

func adminError(op string, err error) error {
	switch {
	case errors.Is(err, client.ErrUnauthenticated):
		return fmt.Errorf("%s: sign in first with `notectl login`", op)
	case errors.Is(err, client.ErrForbidden):
		return fmt.Errorf("%s: your account is not an admin", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func newAdminListCmd(c *cli) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rooms of one kind, newest activity first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()

			list, err := cl.AdminListRooms(ctx, kind)
			if err != nil {
				return adminError("list rooms", err)
			}
			c.printf("normal: %d  permanent: %d\n", list.NormalCount, list.PermanentCount)
			now := time.Now()
			for _, room := range list.Rooms {
				updated := time.UnixMilli(room.LastUpdated)
				c.printf("%-12s notes=%-4d updated %s\n", room.Code, len(room.Notes), now.Sub(updated).Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", service.FilterNormal, "normal or permanent")
	return cmd
}

func newAdminToggleCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <code>",
		Short: "Flip a room's permanent flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()

			permanent, err := cl.AdminTogglePermanent(ctx, args[0])
			if err != nil {
				return adminError("toggle permanent", err)
			}
			c.printf("%s permanent=%t\n", args[0], permanent)
			return nil
		},
	}
}

func newAdminDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code>",
		Short: "Delete a room and its notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()

			if err := cl.AdminDeleteRoom(ctx, args[0]); err != nil {
				return adminError("delete room", err)
			}
			c.printf("deleted %s\n", args[0])
			return nil
		},
	}
}
