package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geoping/geoping/pkg/auth"
	"github.com/geoping/geoping/pkg/rooms"
)

var (
	loginPassword string
	loginEmail    string
	loginRegister bool
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in to the backend and store the credential",
	Long: `Log in (or, with --register, create an account) and store the session
token locally. The presence monitor and collection commands use it for
every server request.

Examples:
  geoping --server http://10.0.0.2:3000 login ana -p secret
  geoping login ana -p secret --register -e ana@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		if loginPassword == "" {
			return fmt.Errorf("password is required (use -p)")
		}

		backend, err := openKV()
		if err != nil {
			return err
		}
		defer backend.Close()

		ctx := cmd.Context()
		store := rooms.NewStore(backend)
		endpoint, err := resolveEndpoint(ctx, store)
		if err != nil {
			return err
		}

		client := &auth.Client{BaseURL: endpoint}
		var creds auth.Credentials
		if loginRegister {
			creds, err = client.Register(ctx, username, loginEmail, loginPassword)
		} else {
			creds, err = client.Login(ctx, username, loginPassword)
		}
		if err != nil {
			return err
		}

		if err := auth.NewStore(backend).Save(ctx, creds); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", creds.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openKV()
		if err != nil {
			return err
		}
		defer backend.Close()

		if err := auth.NewStore(backend).Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (required)")
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "email address (for --register)")
	loginCmd.Flags().BoolVar(&loginRegister, "register", false, "create a new account")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
