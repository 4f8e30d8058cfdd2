package cmd

import (
	"path/filepath"

	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// gamesCmd groups the commands that find and select an installed game.
func gamesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "games",
		Short: "Find and select installed games",
	}
	cmd.AddCommand(
		gamesListCmd(flags),
		gamesSelectCmd(flags),
		gamesAddCmd(flags),
	)
	return cmd
}

func gamesListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the installed games found in the registry and the manually added folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			gc := s.Config.Snapshot().GameConfig
			games := s.Prober.DetectInstalledGames(gc.ManuallyAddedGames)
			if len(games) == 0 {
				cmd.Println("No supported game found. Use `fcrollback games add <folder>` to add one.")
				return nil
			}
			s.printer.Games(games, gc.SelectedGame)
			log.Info().Msgf("Listed %d installed games.", len(games))
			return nil
		},
	}
}

func gamesSelectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "select [gameDir]",
		Short: "Select the game folder the other commands work on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			dir, err := filepath.Abs(args[0])
			if err != nil {
				return clierr.New(clierr.Validation, "invalid game folder "+args[0], err)
			}
			res, err := s.SelectGame(cmd.Context(), dir)
			if err != nil {
				return err
			}
			cmd.Printf("Selected %s in %s\n", res.Title.Name, res.GameDir)
			if res.SemVer != nil {
				cmd.Printf("Reported version: %s\n", res.SemVer)
			}
			cmd.Printf("Executable fingerprint: %s\n", res.Fingerprint)
			return nil
		},
	}
}

func gamesAddCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add [gameDir]",
		Short: "Add a game folder the registry does not know about",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			dir, err := filepath.Abs(args[0])
			if err != nil {
				return clierr.New(clierr.Validation, "invalid game folder "+args[0], err)
			}
			t, ok := s.Titles.ForGameDir(s.Layout.Fs(), dir)
			if !ok {
				return clierr.New(clierr.NotFound, "no supported game executable in "+dir, nil)
			}
			if err := s.Config.AddManualGame(dir); err != nil {
				return err
			}
			cmd.Printf("Added %s in %s\n", t.Name, dir)
			return nil
		},
	}
}
