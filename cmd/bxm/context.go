package main

import (
	"fmt"

	"github.com/dgellow/bxm/internal"
	"github.com/dgellow/bxm/internal/identity"
	"github.com/dgellow/bxm/internal/surface"
	"github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var contextCmd = &cobra.Command{
	Use:   "context [kind]",
	Short: "Attach a Context (popup, options, sidepanel, page) to the Authority",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runContext,
}

func init() {
	contextCmd.Flags().Bool("open", false, "open the website sign-in page")
	contextCmd.Flags().String("name", "", "context name (defaults to the kind)")
}

func runContext(cmd *cobra.Command, args []string) error {
	kind := surface.KindPopup
	if len(args) == 1 {
		kind = surface.Kind(args[0])
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown context kind %q", kind)
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = string(kind)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := internal.NewContextApp(cmd.Context(), cfg, name)
	if err != nil {
		return fmt.Errorf("failed to create context: %w", err)
	}

	unsubscribe := app.Client().Subscribe(func(state identity.State) {
		if state.SignedIn() {
			pterm.Success.Printfln("%s signed in as %s", name, state.Session.Email)
		} else {
			pterm.Info.Printfln("%s signed out", name)
		}
	})
	defer unsubscribe()

	if open, _ := cmd.Flags().GetBool("open"); open {
		if err := openAuthPage(cfg.Surface.AuthDomain, cfg.Authority.BaseURL); err != nil {
			pterm.Warning.Println(err.Error())
		}
	}

	pterm.Info.Printfln("Context %s attached to %s, press Ctrl+C to detach", name, cfg.Surface.AuthorityURL)
	return app.Run(cmd.Context())
}

func openAuthPage(authDomain, returnURL string) error {
	if authDomain == "" {
		return fmt.Errorf("surface.authDomain is not configured")
	}
	pageURL, err := surface.AuthPageURL(authDomain, surface.AuthPageOptions{AuthReturnURL: returnURL})
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Opening %s", pageURL)
	if err := browser.OpenURL(pageURL); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
