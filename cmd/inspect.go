package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

type bundleSummary struct {
	Name            string    `yaml:"name"`
	Dir             string    `yaml:"dir"`
	Domain          string    `yaml:"domain"`
	Version         string    `yaml:"version,omitempty"`
	RunID           string    `yaml:"run_id,omitempty"`
	ModelType       string    `yaml:"model_type"`
	DerivedFeatures bool      `yaml:"derived_features"`
	Features        []string  `yaml:"features"`
	Classes         []string  `yaml:"classes"`
	LoadedAt        time.Time `yaml:"loaded_at"`
}

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <bundle>",
		Short: "load a bundle and print its manifest, features and classes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := opts.newRegistry(false)
			if err != nil {
				return err
			}
			defer registry.Close()

			b, err := registry.Get(args[0])
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(bundleSummary{
				Name:            b.Name(),
				Dir:             b.Dir,
				Domain:          b.Manifest.Domain,
				Version:         b.Manifest.Version,
				RunID:           b.Manifest.RunID,
				ModelType:       b.Manifest.ModelType,
				DerivedFeatures: b.Manifest.DerivedFeatures,
				Features:        b.Features,
				Classes:         b.Classes(),
				LoadedAt:        b.LoadedAt,
			})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
