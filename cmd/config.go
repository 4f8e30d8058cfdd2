package cmd

import (
	"encoding/json"
	"strings"

	"github.com/habedi/fcrollback/config"
	"github.com/habedi/fcrollback/pkg/clierr"
	"github.com/spf13/cobra"
)

// configCmd reads and writes the user's config file.
func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the settings in config.json",
	}
	cmd.AddCommand(
		configShowCmd(flags),
		configGetCmd(flags),
		configSetCmd(flags),
	)
	return cmd
}

func configShowCmd(flags *globalFlags) *cobra.Command {
	var listPaths bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the recognised settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listPaths {
				for _, p := range config.RecognisedPaths() {
					cmd.Println(p)
				}
				return nil
			}
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			data, err := json.MarshalIndent(s.Config.Snapshot(), "", "    ")
			if err != nil {
				return clierr.New(clierr.Internal, "failed to encode the config", err)
			}
			cmd.Println("# " + s.Config.Path())
			cmd.Println(string(data))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&listPaths, "paths", "p", false, "List the paths `config set` accepts instead")
	return cmd
}

func configGetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get [path]",
		Short: "Print one value, e.g. Settings.DownloadOptions.Segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			v, ok := s.Config.Get(args[0])
			if !ok {
				return clierr.New(clierr.NotFound, "no value at "+args[0], nil)
			}
			data, err := json.Marshal(v)
			if err != nil {
				return clierr.New(clierr.Internal, "failed to encode "+args[0], err)
			}
			cmd.Println(string(data))
			return nil
		},
	}
}

func configSetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set [path] [value]",
		Short: "Change one value; lists are comma separated",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.Config.Set(args[0], args[1]); err != nil {
				if clierr.Is(err, clierr.Validation) && strings.Contains(err.Error(), "unrecognised") {
					cmd.PrintErrln("Run `fcrollback config show --paths` for the accepted paths.")
				}
				return err
			}
			cmd.Printf("%s updated.\n", args[0])
			return nil
		},
	}
}
