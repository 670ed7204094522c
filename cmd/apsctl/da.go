package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/aps-client/pkg/da"
)

func newActivitiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activities",
		Short: "List Design Automation activities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			err := a.aps.Retry(cmd.Context(), func(ctx context.Context) (err error) {
				ids, err = a.aps.DA.Activities(ctx, a.token())
				return err
			})
			if err != nil {
				return err
			}
			return a.printList(cmd.OutOrStdout(), "ACTIVITY", ids)
		},
	}
}

func newAppBundlesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "appbundles",
		Short: "List Design Automation app bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			err := a.aps.Retry(cmd.Context(), func(ctx context.Context) (err error) {
				ids, err = a.aps.DA.AppBundles(ctx, a.token())
				return err
			})
			if err != nil {
				return err
			}
			return a.printList(cmd.OutOrStdout(), "APPBUNDLE", ids)
		},
	}
}

func newEnginesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List Design Automation engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			err := a.aps.Retry(cmd.Context(), func(ctx context.Context) (err error) {
				ids, err = a.aps.DA.Engines(ctx, a.token())
				return err
			})
			if err != nil {
				return err
			}
			return a.printList(cmd.OutOrStdout(), "ENGINE", ids)
		},
	}
}

func newWorkItemCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workitem",
		Short: "Submit and track Design Automation work items",
	}

	printWorkItem := func(cmd *cobra.Command, wi *da.WorkItem) error {
		return a.print(cmd.OutOrStdout(), wi, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tREPORT")
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", wi.ID, wi.Status, wi.Progress, wi.ReportURL)
		})
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show the current status of a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var wi *da.WorkItem
			err := a.aps.Retry(cmd.Context(), func(ctx context.Context) (err error) {
				wi, err = a.aps.DA.WorkItem(ctx, a.token(), args[0])
				return err
			})
			if err != nil {
				return err
			}
			return printWorkItem(cmd, wi)
		},
	}

	wait := &cobra.Command{
		Use:   "wait <id>",
		Short: "Poll a work item until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wi, err := a.aps.DA.WaitWorkItem(cmd.Context(), a.token(), args[0])
			if err != nil {
				return err
			}
			return printWorkItem(cmd, wi)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.aps.DA.CancelWorkItem(cmd.Context(), a.token(), args[0])
		},
	}

	var (
		argsFile string
		push     bool
		noWait   bool
	)
	run := &cobra.Command{
		Use:   "run <activity>",
		Short: "Submit a work item and wait for it",
		Long: `Submit a work item for an activity ("owner.Name+alias").

The arguments file is a JSON object mapping parameter names to either
{"json": ...} for inline JSON or {"verb", "bucketKey", "objectKey"} for an
OSS object.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := da.ParseQualifiedID(args[0]); err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}

			var arguments map[string]da.Argument
			if argsFile != "" {
				data, err := os.ReadFile(argsFile)
				if err != nil {
					return err
				}
				if arguments, err = da.ParseArguments(data); err != nil {
					return fmt.Errorf("%w: %v", errUsage, err)
				}
			}

			body, err := da.NewWorkItemBody(a.token(), args[0], arguments)
			if err != nil {
				return err
			}

			var wi *da.WorkItem
			switch {
			case push:
				wi, err = a.aps.DA.RunWorkItem(cmd.Context(), a.token(), body)
			case noWait:
				wi, err = a.aps.DA.CreateWorkItem(cmd.Context(), a.token(), body)
			default:
				wi, err = a.aps.DA.CreateWorkItem(cmd.Context(), a.token(), body)
				if err == nil {
					wi, err = a.aps.DA.WaitWorkItem(cmd.Context(), a.token(), wi.ID)
				}
			}
			if err != nil {
				return err
			}
			return printWorkItem(cmd, wi)
		},
	}
	run.Flags().StringVar(&argsFile, "args", "", "JSON file with work item arguments")
	run.Flags().BoolVar(&push, "push", false, "Submit over the WebSocket endpoint and wait for pushed status")
	run.Flags().BoolVar(&noWait, "no-wait", false, "Return right after submission")
	run.MarkFlagsMutuallyExclusive("push", "no-wait")

	cmd.AddCommand(get, wait, cancel, run)
	return cmd
}
