package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// historyCmd shows or clears the record of finished downloads and installs.
func historyCmd(flags *globalFlags) *cobra.Command {
	var limit int
	var clearFlag bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the finished downloads and installs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			if clearFlag {
				if err := s.History.Clear(cmd.Context()); err != nil {
					return err
				}
				cmd.Println("History cleared.")
				return nil
			}
			recs, err := s.History.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				cmd.Println("No finished jobs yet.")
				return nil
			}
			s.printer.History(recs)
			log.Info().Msgf("Listed %d history records.", len(recs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show; 0 shows all")
	cmd.Flags().BoolVar(&clearFlag, "clear", false, "Delete every record")
	return cmd
}
