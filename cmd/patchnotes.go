package cmd

import (
	"strings"

	"github.com/habedi/fcrollback/catalog"
	"github.com/spf13/cobra"
)

// patchNotesCmd prints the release notes of the selected game's title updates.
func patchNotesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "patchnotes [updateName...]",
		Short: "Show the patch notes of title updates; all of them without arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			_, res, err := s.loadCatalog(cmd)
			if err != nil {
				return err
			}
			entries := selectEntries(res.Catalog.Sorted(catalog.TitleUpdate), args)
			notes := s.PatchNotes.Fetch(cmd.Context(), entries)
			if len(notes) == 0 {
				cmd.Println("No patch notes are linked for these updates.")
				return nil
			}
			for _, n := range notes {
				cmd.Printf("== %s (%s)\n", n.Entry.Name, n.Entry.Released)
				if n.Err != nil {
					cmd.Println(n.Err)
				} else {
					cmd.Println(n.Text)
				}
				cmd.Println()
			}
			return nil
		},
	}
}

// selectEntries keeps the entries named in names, ignoring case; no names
// keeps everything.
func selectEntries(entries []catalog.Entry, names []string) []catalog.Entry {
	if len(names) == 0 {
		return entries
	}
	var out []catalog.Entry
	for _, e := range entries {
		for _, n := range names {
			if strings.EqualFold(e.Name, n) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
