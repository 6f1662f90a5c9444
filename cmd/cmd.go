package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/variantdev/ship/pkg/loginfra"
	"github.com/variantdev/ship/pkg/pipeline"
	"k8s.io/klog/klogr"
)

func Execute() {
	log := klogr.New()

	var file string
	var dryRun bool

	cmd := cobra.Command{
		Use:   "ship",
		Short: "Cut and publish a release when the version marker changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.New(pipeline.Logger(log), pipeline.File(file))
			if err != nil {
				return err
			}

			if dryRun {
				d, err := p.Decide()
				if err != nil {
					return err
				}
				fmt.Printf("shouldRelease=%v version=%s targets=%d\n", d.ShouldRelease, d.Version, len(p.Catalog().Targets))
				return nil
			}

			summary, err := p.Run(context.Background())
			if err != nil {
				return err
			}

			if summary.Record == nil {
				fmt.Println("version unchanged; nothing to release")
				return nil
			}

			for _, o := range summary.Targets {
				if o.Success() {
					fmt.Printf("%s: ok (%s)\n", o.Target.Triple, o.Artifact.AssetName)
				} else {
					fmt.Printf("%s: FAILED at %s: %v\n", o.Target.Triple, o.Stage, o.Err)
				}
			}

			if failed := summary.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d targets failed; release %s is partially populated", len(failed), len(summary.Targets), summary.Record.Tag)
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&file, "file", "f", pipeline.ConfigFileName, "pipeline config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate the gate and catalog without building or releasing")

	gate := &cobra.Command{
		Use:   "gate",
		Short: "Print the release decision for the current HEAD",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.New(pipeline.Logger(log), pipeline.File(file))
			if err != nil {
				return err
			}

			d, err := p.Decide()
			if err != nil {
				return err
			}

			fmt.Printf("shouldRelease=%v version=%s\n", d.ShouldRelease, d.Version)
			return nil
		},
	}

	targets := &cobra.Command{
		Use:   "targets",
		Short: "List the build target catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.New(pipeline.Logger(log), pipeline.File(file))
			if err != nil {
				return err
			}

			for _, t := range p.Catalog().Targets {
				fmt.Printf("%-32s %-14s %s\n", t.Triple, t.Strategy, t.AssetName)
			}
			return nil
		},
	}

	cmd.AddCommand(gate, targets)

	cmd.SilenceErrors = true

	fs := loginfra.Init()

	// Hand parsing of remaining flags to pflags and cobra
	pflag.CommandLine.AddGoFlagSet(fs)

	if err := cmd.Execute(); err != nil {
		log.Error(err, err.Error())
		os.Exit(1)
	}
}
