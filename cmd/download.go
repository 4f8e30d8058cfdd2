package cmd

import (
	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/ui"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// downloadCmd downloads one update of the selected game into the profile store.
func downloadCmd(flags *globalFlags) *cobra.Command {
	var kindName string
	var segments int
	var external bool

	cmd := &cobra.Command{
		Use:   "download [updateName]",
		Short: "Download a title update or squad file of the selected game",
		Long:  "Download a title update or squad file of the selected game into the profile store, ready to install",
		Args:  cobra.ExactArgs(1),
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
			return s.executeDownload(cmd, kind, args[0], segments, external)
		},
	}

	cmd.Flags().StringVarP(&kindName, "kind", "k", string(catalog.TitleUpdate), "Update kind [TitleUpdates, Squads, FutSquads]")
	cmd.Flags().IntVarP(&segments, "segments", "s", 0, "Parallel connections; 0 uses the configured value")
	cmd.Flags().BoolVarP(&external, "external", "e", false, "Hand the link to the configured external download manager")
	return cmd
}

func (s *session) executeDownload(cmd *cobra.Command, kind catalog.Kind, name string, segments int, external bool) error {
	game, _, entry, err := s.findEntry(cmd, kind, name)
	if err != nil {
		return err
	}
	req := s.DownloadRequest(game.Title, entry)
	if segments > 0 {
		req.Options.Segments = segments
	}
	if external {
		req.Options.UseExternal = true
	}
	log.Info().Str("name", entry.Name).Str("kind", string(kind)).Int("segments", req.Options.Segments).
		Bool("external", req.Options.UseExternal).Msg("Starting download")

	job, err := s.Downloads.Start(cmd.Context(), req)
	if err != nil {
		return err
	}
	if err := ui.DownloadProgress(cmd.OutOrStdout(), job); err != nil {
		return err
	}
	cmd.Printf("Stored in %s\n", job.Path())
	return nil
}
