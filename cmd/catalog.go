package cmd

import (
	"fmt"

	"github.com/habedi/fcrollback/app"
	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/events"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/habedi/fcrollback/probe"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// catalogCmd groups the commands that show the update list of the selected game.
func catalogCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the title updates and squad files of the selected game",
	}
	cmd.AddCommand(
		catalogListCmd(flags),
		catalogRefreshCmd(flags),
	)
	return cmd
}

func catalogListCmd(flags *globalFlags) *cobra.Command {
	var kindName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the update list with the status of every entry",
		Args:  cobra.NoArgs,
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

			res, cat, err := s.loadCatalog(cmd)
			if err != nil {
				return err
			}
			s.showCatalog(cmd, res, cat, kind)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kindName, "kind", "k", string(catalog.TitleUpdate), "Update kind [TitleUpdates, Squads, FutSquads]")
	return cmd
}

func catalogRefreshCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the update list again and recompute every status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			game, err := s.Selected(cmd.Context())
			if err != nil {
				return err
			}
			s.Bus.CatalogRefreshRequested.Publish(events.CatalogRefresh{TitleID: game.Title.ID, Reason: "user request"})
			res, err := s.Catalog.Load(cmd.Context(), game.Title.ID, func(status string) {
				cmd.Println("Update list:", status)
			})
			if err != nil {
				return err
			}
			for _, k := range catalog.Kinds() {
				cmd.Printf("%-12s %d entries\n", k.TabKey(), len(res.Catalog[k]))
			}
			return nil
		},
	}
}

// loadCatalog probes the selected game and loads its update list.
func (s *session) loadCatalog(cmd *cobra.Command) (probe.Result, catalog.Result, error) {
	game, err := s.Selected(cmd.Context())
	if err != nil {
		return game, catalog.Result{}, err
	}
	res, err := s.Catalog.Load(cmd.Context(), game.Title.ID, func(status string) {
		log.Debug().Str("status", status).Msg("Update list loaded")
	})
	return game, res, err
}

func (s *session) showCatalog(cmd *cobra.Command, game probe.Result, res catalog.Result, kind catalog.Kind) {
	visual := s.Config.Snapshot().Settings.Visual
	mode := visual.VersionDisplay(kind.TabKey())

	header := fmt.Sprintf("%s - %s", game.Title.Name, kind.TabKey())
	if v := res.ContentVersion(kind, mode); v != "" {
		header += " (content version " + v + ")"
	}
	cmd.Println(header)

	entries := res.Catalog.Sorted(kind)
	if len(entries) == 0 {
		cmd.Println("No entries.")
		return
	}
	statuses := s.Statuses.ResolveAll(entries, s.Inputs(game))
	s.printer.Updates(entries, statuses, visual.Columns(kind.TabKey()), mode)
}

func parseKind(name string) (catalog.Kind, error) {
	k, err := catalog.ParseKind(name)
	if err != nil {
		return "", clierr.New(clierr.Validation, err.Error(), err)
	}
	return k, nil
}

// findEntry loads the catalog of the selected game and looks name up.
func (s *session) findEntry(cmd *cobra.Command, kind catalog.Kind, name string) (probe.Result, catalog.Result, catalog.Entry, error) {
	game, res, err := s.loadCatalog(cmd)
	if err != nil {
		return game, res, catalog.Entry{}, err
	}
	e, err := app.FindEntry(res.Catalog, kind, name)
	return game, res, e, err
}
