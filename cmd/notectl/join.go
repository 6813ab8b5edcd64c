package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/msea200/clipshare/internal/roomsync"
)

const joinHelp = `Type text to append it to the shared draft. Commands:
  /add          save the draft as a note and clear it
  /set <text>   replace the draft
  /clear        clear the draft
  /draft        show the draft
  /list         list notes
  /del <id>     delete a note
  /leave        leave the room
`

func newJoinCmd(c *cli) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a room and edit its draft interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.newClient()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := &repl{out: c.out, timeout: c.timeout, ended: make(chan string, 1)}
			r.session = roomsync.NewSession(cl, roomsync.Options{Debounce: debounce, OnChange: r.onChange})

			joinCtx, cancel := c.requestContext(ctx)
			err = r.session.Join(joinCtx, args[0])
			cancel()
			if err != nil {
				return describeJoinError(args[0], err)
			}
			defer r.session.Leave()

			room := r.session.Room()
			r.printf("Joined %s\n", room.Code)
			r.printf("%s", joinHelp)
			return r.run(ctx, c.in)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", roomsync.DefaultDebounce, "delay before a draft edit is pushed")
	return cmd
}

func describeJoinError(code string, err error) error {
	switch {
	case errors.Is(err, roomsync.ErrNotFound):
		return fmt.Errorf("room %s does not exist", code)
	case errors.Is(err, roomsync.ErrExpired):
		return fmt.Errorf("room %s has expired", code)
	}
	return fmt.Errorf("join %s: %w", code, err)
}

// repl 是 join 命令的交互循环，输出由 mu 串行化
type repl struct {
	session *roomsync.Session
	out     io.Writer
	timeout time.Duration
	mu      sync.Mutex
	ended   chan string
}

func (r *repl) printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// onChange 只提示远端变化，本地编辑不回显
func (r *repl) onChange(ch roomsync.Change) {
	switch ch.Kind {
	case roomsync.ChangeDraft:
		if ch.Origin == roomsync.OriginRemote {
			r.printf("* draft updated remotely (%d chars)\n", len([]rune(r.session.Draft())))
		}
	case roomsync.ChangeNotes:
		if ch.Origin == roomsync.OriginRemote {
			r.printf("* notes changed (%d total)\n", len(r.session.Notes()))
		}
	case roomsync.ChangePermanent:
		if room := r.session.Room(); room != nil && room.Permanent {
			r.printf("* room is now permanent\n")
		} else {
			r.printf("* room is no longer permanent\n")
		}
	case roomsync.ChangeConnectivity:
		if r.session.Connected() {
			r.printf("* connected\n")
		} else {
			r.printf("* connection lost\n")
		}
	case roomsync.ChangeRoomDeleted:
		select {
		case r.ended <- fmt.Sprintf("room %s was deleted", ch.Code):
		default:
		}
	}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-r.ended:
			r.printf("%s\n", reason)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := r.handle(ctx, line); done {
				return nil
			}
		}
	}
}

// handle 处理一行输入，返回 true 表示退出
func (r *repl) handle(ctx context.Context, line string) bool {
	cmd, arg, isCommand := parseLine(line)
	if !isCommand {
		draft := r.session.Draft()
		if draft != "" {
			draft += "\n"
		}
		r.editDraft(draft + arg)
		return false
	}

	switch cmd {
	case "add":
		reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		note, err := r.session.Commit(reqCtx)
		switch {
		case errors.Is(err, roomsync.ErrEmptyNote):
			r.printf("draft is empty\n")
		case note != nil && err != nil:
			r.printf("saved note %s, but clearing the draft failed: %v\n", note.ID, err)
		case err != nil:
			r.printf("error: %v\n", err)
		default:
			r.printf("saved note %s\n", note.ID)
		}
	case "set":
		r.editDraft(arg)
	case "clear":
		r.editDraft("")
	case "draft":
		r.printf("%s\n", r.session.Draft())
	case "list":
		r.mu.Lock()
		printNotes(r.out, r.session.Notes(), time.Now())
		r.mu.Unlock()
	case "del":
		if arg == "" {
			r.printf("usage: /del <id>\n")
			return false
		}
		reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if err := r.session.DeleteNote(reqCtx, arg); err != nil {
			r.printf("error: %v\n", err)
		}
	case "leave", "quit", "exit":
		return true
	case "help":
		r.printf("%s", joinHelp)
	default:
		r.printf("unknown command /%s, try /help\n", cmd)
	}
	return false
}

func (r *repl) editDraft(text string) {
	if err := r.session.EditDraft(text); err != nil {
		r.printf("error: %v\n", err)
		return
	}
	if w := lengthWarning(text); w != "" {
		r.printf("%s\n", w)
	}
}

// parseLine 把 "/cmd arg" 拆开；"//" 开头的行按普通文本处理并去掉一个斜杠
func parseLine(line string) (cmd, arg string, isCommand bool) {
	if !strings.HasPrefix(line, "/") {
		return "", line, false
	}
	if strings.HasPrefix(line, "//") {
		return "", line[1:], false
	}
	rest := strings.TrimPrefix(line, "/")
	cmd, arg, _ = strings.Cut(rest, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}
