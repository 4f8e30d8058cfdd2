package cmd

import (
	"context"
	"os"
	"time"

	"github.com/habedi/fcrollback/app"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Execute runs the root command and exits non-zero on failure.
func Execute(ctx context.Context) {
	rootCmd := createRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		rootCmd.PrintErrln("Error:", err)
		log.Error().Stack().Err(err).Str("kind", string(clierr.KindOf(err))).Msg("Command execution failed.")
		os.Exit(1)
	}
}

type globalFlags struct {
	assumeYes bool
	noColor   bool
}

func createRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "fcrollback",
		Short:         "Roll EA SPORTS FC title updates back or forward and manage squad files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolP("help", "h", false, "Show help for a command")
	rootCmd.PersistentFlags().BoolVarP(&flags.assumeYes, "yes", "y", false, "Answer yes to every question")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable coloured output")

	rootCmd.AddCommand(
		gamesCmd(&flags),
		catalogCmd(&flags),
		downloadCmd(&flags),
		installCmd(&flags),
		configCmd(&flags),
		historyCmd(&flags),
		patchNotesCmd(&flags),
		versionCmd(),
	)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	return rootCmd
}

// session is an App plus the terminal collaborators of one command run.
type session struct {
	*app.App
	prompt  *ui.Prompt
	printer ui.Printer
}

// openSession builds the engine for a command. The caller must close it.
func openSession(cmd *cobra.Command, flags *globalFlags) (*session, error) {
	opts, err := app.LoadOptions()
	if err != nil {
		return nil, clierr.New(clierr.Validation, "invalid FCROLLBACK_* settings", err)
	}
	prompt := ui.NewPrompt(cmd.InOrStdin(), cmd.OutOrStdout(), flags.assumeYes)
	color := !flags.noColor && prompt.Color
	prompt.Color = color

	a, err := app.New(cmd.Context(), opts, app.Host{
		Notifier: prompt,
		Warner:   prompt.CatalogWarner(),
	})
	if err != nil {
		return nil, err
	}
	s := &session{App: a, prompt: prompt, printer: ui.Printer{Out: cmd.OutOrStdout(), Color: color}}
	s.remind(cmd)
	return s, nil
}

func (s *session) remind(cmd *cobra.Command) {
	now := time.Now()
	if !s.Reminder.Due(now) {
		return
	}
	cmd.Println("Tip: check the project page for a newer release of fcrollback.")
	if err := s.Reminder.Mark(now); err != nil {
		log.Warn().Err(err).Msg("Failed to record the update reminder")
	}
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down cleanly")
	}
}
