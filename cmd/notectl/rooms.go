package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/msea200/clipshare/internal/domain"
	"github.com/msea200/clipshare/internal/roomsync"
	"github.com/msea200/clipshare/internal/service"
)

func newCreateCmd(c *cli) *cobra.Command {
	var dated bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new room and print its code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()

			scheme := service.SchemeRandom
			if dated {
				scheme = service.SchemeDated
			}
			room, err := cl.CreateRoom(ctx, scheme)
			if err != nil {
				return fmt.Errorf("create room: %w", err)
			}
			printRoom(c.out, room, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&dated, "dated", false, "use a YYMMDD-NNN code instead of a random one")
	return cmd
}

func newTodayCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Open today's shared room, creating it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := c.requestContext(cmd.Context())
			defer cancel()

			room, err := cl.Today(ctx)
			if err != nil {
				return fmt.Errorf("open today's room: %w", err)
			}
			printRoom(c.out, room, time.Now())
			return nil
		},
	}
}

// printRoom 输出房间概要和笔记列表
func printRoom(w io.Writer, room *domain.Room, now time.Time) {
	fmt.Fprintf(w, "Room %s\n", room.Code)
	if room.Permanent {
		fmt.Fprintln(w, "  permanent")
	} else {
		fmt.Fprintf(w, "  expires %s\n", time.UnixMilli(room.ExpiresAt).Local().Format(time.RFC1123))
	}
	if room.DraftText != "" {
		fmt.Fprintf(w, "  draft: %d chars\n", len([]rune(room.DraftText)))
	}
	printNotes(w, room.SortedNotes(), now)
}

func printNotes(w io.Writer, notes []domain.Note, now time.Time) {
	if len(notes) == 0 {
		fmt.Fprintln(w, "  (no notes)")
		return
	}
	for _, n := range notes {
		author := ""
		if n.Author != nil {
			author = " by " + n.Author.DisplayName
		}
		fmt.Fprintf(w, "  [%s] %s%s, %d chars\n", n.ID, roomsync.FormatAge(now, n.CreatedAt), author, len([]rune(n.Text)))
		for _, line := range strings.Split(n.Text, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}

// lengthWarning 超过软性上限时返回提示，不阻止写入
func lengthWarning(text string) string {
	n := len([]rune(text))
	if n <= domain.MaxTextLength {
		return ""
	}
	return fmt.Sprintf("warning: %d chars exceeds the suggested limit of %d", n, domain.MaxTextLength)
}
