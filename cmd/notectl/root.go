package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/msea200/clipshare/internal/client"
)

const defaultServer = "http://localhost:8080"

// cli 保存所有子命令共享的全局选项
type cli struct {
	server    string
	credsPath string
	verbose   bool
	timeout   time.Duration

	out io.Writer
	in  io.Reader
}

func newRootCmd() *cobra.Command {
	c := &cli{out: os.Stdout, in: os.Stdin}

	root := &cobra.Command{
		Use:           "notectl",
		Short:         "Command line client for clipshare rooms",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.out = cmd.OutOrStdout()
			c.in = cmd.InOrStdin()
			logrus.SetOutput(cmd.ErrOrStderr())
			if c.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}

	server := os.Getenv("CLIPSHARE_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&c.server, "server", server, "clipshare server base URL (env CLIPSHARE_SERVER)")
	root.PersistentFlags().StringVar(&c.credsPath, "credentials", defaultCredentialsPath(), "file holding the saved login token")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 15*time.Second, "timeout for a single request")

	root.AddCommand(
		newCreateCmd(c),
		newTodayCmd(c),
		newJoinCmd(c),
		newRegisterCmd(c),
		newLoginCmd(c),
		newLogoutCmd(c),
		newWhoamiCmd(c),
		newReformatCmd(c),
		newAdminCmd(c),
	)
	return root
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".clipshare-credentials.json"
	}
	return filepath.Join(dir, "clipshare", "credentials.json")
}

// newClient 创建客户端，存在已保存的登录信息时自动带上 token
func (c *cli) newClient() (*client.Client, error) {
	var opts []client.Option
	creds, err := loadCredentials(c.credsPath)
	if err != nil {
		return nil, err
	}
	if creds != nil && creds.Server == c.server {
		opts = append(opts, client.WithToken(creds.Token, creds.Identity))
	}
	return client.New(c.server, opts...)
}

func (c *cli) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.timeout)
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}
