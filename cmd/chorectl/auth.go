package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chore-tracker/internal/client/api"
)

func init() {
	var password string

	registerCmd := &cobra.Command{
		Use:   "register USERNAME",
		Short: "Create an account and remember its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, args[0], password, (*api.Client).Register)
		},
	}
	registerCmd.Flags().StringVarP(&password, "password", "p", "", "Password (at least 6 characters)")
	_ = registerCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(registerCmd)

	loginCmd := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Log in and remember the token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authenticate(cmd, args[0], password, (*api.Client).Login)
		},
	}
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	_ = loginCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(loginCmd)
}

type authFunc func(c *api.Client, ctx context.Context, username, password string) (*api.Session, error)

func authenticate(cmd *cobra.Command, username, password string, fn authFunc) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	sess, err := fn(a.client, cmd.Context(), username, password)
	if err != nil {
		return err
	}
	if err := a.saveSession(sess); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s (user %d)\n", sess.User.Username, sess.User.ID)
	fmt.Fprintf(a.out, "token: %s\n", sess.Token)
	return nil
}
