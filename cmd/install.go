package cmd

import (
	"github.com/habedi/fcrollback/app"
	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// installCmd installs a downloaded update into the selected game.
func installCmd(flags *globalFlags) *cobra.Command {
	var kindName string

	cmd := &cobra.Command{
		Use:   "install [updateName]",
		Short: "Install a downloaded title update or squad file",
		Long: "Install a downloaded title update into the selected game folder, or a squad file into the game's " +
			"settings folder. Backups and cleanup follow the InstallationOptions of the config file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(kindName)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()
			return s.executeInstall(cmd, kind, args[0])
		},
	}
	cmd.Flags().StringVarP(&kindName, "kind", "k", string(catalog.TitleUpdate), "Update kind [TitleUpdates, Squads, FutSquads]")
	return cmd
}

func (s *session) executeInstall(cmd *cobra.Command, kind catalog.Kind, name string) error {
	game, res, entry, err := s.findEntry(cmd, kind, name)
	if err != nil {
		return err
	}
	installed := app.InstalledName(game, res.Catalog)
	job := s.InstallJob(game, entry, installed)
	log.Info().Str("name", entry.Name).Str("kind", string(kind)).Str("installed", installed).
		Interface("options", job.Options).Msg("Starting install")

	run, err := s.Installs.Start(cmd.Context(), job)
	if err != nil {
		return err
	}
	return ui.InstallProgress(cmd.OutOrStdout(), run)
}
