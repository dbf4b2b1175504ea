package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"task-management-api/internal/app"
	"task-management-api/internal/config"
	"task-management-api/internal/model"
)

// Test seams.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

func NewCreateUserCmd() *cobra.Command {
	var req model.RegisterRequest

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Register an account from the command line",
		Long: `Register an account exactly as POST /api/v1/auth/register would.
The password is read from the terminal without echo, or from the first line
of stdin when stdin is not a terminal. A verification mail is sent through the
configured mail driver.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			req.Password = password

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			application, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.Auth().Register(ctx, req, model.AuditActor{IP: "cli"})
			if err != nil {
				return err
			}

			cmd.Printf("created user %s (%s)\n", result.User.Username, result.User.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.Username, "username", "", "username")
	cmd.Flags().StringVar(&req.FullName, "full-name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func promptPassword(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		fmt.Fprint(out, "Password: ")
		raw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
