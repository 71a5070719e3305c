package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/bxm/internal"
	"github.com/dgellow/bxm/internal/emailutil"
	"github.com/dgellow/bxm/internal/identity"
	"github.com/dgellow/bxm/internal/ioutil"
	"github.com/dgellow/bxm/internal/urlutil"
	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Work with custom tokens",
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a custom token, as the website does after sign-in",
	RunE:  runTokenMint,
}

func init() {
	tokenMintCmd.Flags().String("uid", "", "user id (random when empty)")
	tokenMintCmd.Flags().String("email", "", "user email")
	tokenMintCmd.Flags().String("name", "", "display name")
	tokenMintCmd.Flags().Bool("sign-in", false, "hand the token to the running Authority")
	tokenCmd.AddCommand(tokenMintCmd)
}

func runTokenMint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	issuer, err := internal.NewIssuer(cfg.Identity)
	if err != nil {
		return err
	}

	uid, _ := cmd.Flags().GetString("uid")
	if uid == "" {
		uid = uuid.NewString()
	}
	email, _ := cmd.Flags().GetString("email")
	email = emailutil.Normalize(email)
	if email != "" && !emailutil.Valid(email) {
		return fmt.Errorf("invalid email %q", email)
	}
	name, _ := cmd.Flags().GetString("name")

	token, err := issuer.MintCustomToken(identity.Session{
		UID:           uid,
		Email:         email,
		DisplayName:   name,
		EmailVerified: email != "",
	})
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	signIn, _ := cmd.Flags().GetBool("sign-in")
	if !signIn {
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}

	if err := postToken(cfg.Surface.AuthorityURL, token); err != nil {
		return err
	}
	pterm.Success.Printfln("Authority signed in as %s", uid)
	return nil
}

func postToken(authorityURL, token string) error {
	endpoint, err := urlutil.JoinPath(authorityURL, "/auth/token")
	if err != nil {
		return fmt.Errorf("invalid authority url: %w", err)
	}
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not reach authority: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority rejected token: %s: %s", resp.Status, ioutil.ReadLimited(resp.Body, 1024))
	}
	return nil
}
