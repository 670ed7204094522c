package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/aps-client/pkg/derivative"
	"github.com/Sternrassler/aps-client/pkg/oss"
)

// encodedURN accepts an object id (urn:adsk.objects:...) or an already
// encoded urn.
func encodedURN(arg string) string {
	if strings.HasPrefix(arg, oss.URNPrefix) {
		return derivative.EncodeURN(arg)
	}
	return arg
}

func printManifest(a *app, cmd *cobra.Command, m *derivative.Manifest) error {
	return a.print(cmd.OutOrStdout(), m, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "URN\tSTATUS\tPROGRESS")
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.URN, m.Status, m.Progress)
		for _, d := range m.Derivatives {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.OutputType, d.Status, d.Progress)
		}
	})
}

func newTranslateCmd(a *app) *cobra.Command {
	var (
		formats      []string
		rootFilename string
		region       string
		force        bool
		wait         bool
	)

	cmd := &cobra.Command{
		Use:   "translate <urn>",
		Short: "Start a Model Derivative translation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			urn := encodedURN(args[0])

			job := derivative.Job{
				Input:  derivative.Input{URN: urn, RootFilename: rootFilename, CompressedURN: rootFilename != ""},
				Region: region,
				Force:  force,
			}
			for _, f := range formats {
				switch f {
				case "svf2":
					job.Formats = append(job.Formats, derivative.SVF2())
				case "stl":
					job.Formats = append(job.Formats, derivative.STL())
				default:
					return fmt.Errorf("%w: unsupported format %q", errUsage, f)
				}
			}

			result, err := a.aps.Derivative.Translate(cmd.Context(), a.token(), job)
			if err != nil {
				return err
			}
			if !wait {
				return a.print(cmd.OutOrStdout(), result, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "URN\tRESULT")
					fmt.Fprintf(tw, "%s\t%s\n", urn, result.Result)
				})
			}

			m, err := a.aps.Derivative.WaitForTranslation(cmd.Context(), a.token(), urn)
			if err != nil {
				return err
			}
			return printManifest(a, cmd, m)
		},
	}
	cmd.Flags().StringSliceVar(&formats, "format", []string{"svf2"}, "Output formats (svf2|stl)")
	cmd.Flags().StringVar(&rootFilename, "root-filename", "", "Root design file inside a zipped upload")
	cmd.Flags().StringVar(&region, "output-region", derivative.DefaultRegion, "Derivative storage region")
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate existing derivatives")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the translation to finish")
	return cmd
}

func newManifestCmd(a *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "manifest <urn>",
		Short: "Show the translation manifest of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			urn := encodedURN(args[0])

			var (
				m   *derivative.Manifest
				err error
			)
			if wait {
				m, err = a.aps.Derivative.WaitForTranslation(cmd.Context(), a.token(), urn)
			} else {
				err = a.aps.Retry(cmd.Context(), func(ctx context.Context) (err error) {
					m, err = a.aps.Derivative.Manifest(ctx, a.token(), urn)
					return err
				})
			}
			if err != nil {
				return err
			}
			return printManifest(a, cmd, m)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the translation finishes")
	return cmd
}

func newOverviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Summarize buckets, activities, app bundles and engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ov, err := a.aps.Overview(cmd.Context(), a.token())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), ov, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "RESOURCE\tCOUNT")
				fmt.Fprintf(tw, "buckets\t%d\n", len(ov.Buckets))
				fmt.Fprintf(tw, "activities\t%d\n", len(ov.Activities))
				fmt.Fprintf(tw, "appbundles\t%d\n", len(ov.AppBundles))
				fmt.Fprintf(tw, "engines\t%d\n", len(ov.Engines))
			})
		},
	}
}
