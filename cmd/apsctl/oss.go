package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/aps-client/pkg/oss"
	"github.com/Sternrassler/aps-client/pkg/upload"
)

func newBucketsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "List OSS buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var buckets []oss.Bucket
			err := a.aps.Retry(cmd.Context(), func(ctx context.Context) (err error) {
				buckets, err = a.aps.OSS.ListBuckets(ctx, a.token())
				return err
			})
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), buckets, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "BUCKET\tPOLICY\tCREATED")
				for _, b := range buckets {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", b.BucketKey, b.PolicyKey, b.Created().UTC().Format(time.RFC3339))
				}
			})
		},
	}

	var policy string
	create := &cobra.Command{
		Use:   "create <bucket>",
		Short: "Create a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := oss.ParsePolicy(policy)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			details, err := a.aps.OSS.CreateBucket(cmd.Context(), a.token(), args[0], p)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), details, nil)
		},
	}
	create.Flags().StringVar(&policy, "policy", string(oss.PolicyTransient), "Retention policy (transient|temporary|persistent)")

	remove := &cobra.Command{
		Use:   "delete <bucket>",
		Short: "Delete a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.aps.OSS.DeleteBucket(cmd.Context(), a.token(), args[0])
		},
	}

	cmd.AddCommand(create, remove)
	return cmd
}

func newObjectsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "objects <bucket>",
		Short: "List the objects of a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var objects []oss.Object
			err := a.aps.Retry(cmd.Context(), func(ctx context.Context) (err error) {
				objects, err = a.aps.OSS.ListObjects(ctx, a.token(), args[0])
				return err
			})
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), objects, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "OBJECT\tSIZE\tURN")
				for _, o := range objects {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", o.ObjectKey, o.Size, o.ObjectID)
				}
			})
		},
	}
}

func newUploadCmd(a *app) *cobra.Command {
	var (
		objectKey string
		direct    bool
	)

	cmd := &cobra.Command{
		Use:   "upload <bucket> <file>",
		Short: "Upload a file through a signed S3 URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}

			key := objectKey
			if key == "" {
				key = filepath.Base(args[1])
			}

			if direct {
				obj, err := a.aps.OSS.PutObject(cmd.Context(), a.token(), args[0], key, f, info.Size())
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), obj, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "OBJECT\tSIZE\tURN")
					fmt.Fprintf(tw, "%s\t%d\t%s\n", obj.ObjectKey, obj.Size, obj.ObjectID)
				})
			}

			result, err := a.aps.OSS.UploadObject(cmd.Context(), a.token(), args[0], key,
				upload.Payload{Reader: f, Size: info.Size()})
			if err != nil {
				var abandoned *upload.AbandonedError
				if errors.As(err, &abandoned) {
					a.logger.Warn().
						Str("upload_key", abandoned.UploadKey).
						Str("object_key", abandoned.ObjectKey).
						Msg("Upload left incomplete; it expires on the server")
				}
				return err
			}
			return a.print(cmd.OutOrStdout(), result, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "OBJECT\tSIZE\tURN\tDURATION")
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", result.ObjectKey, result.Object.Size, result.Object.ObjectID, result.Duration.Round(time.Millisecond))
			})
		},
	}
	cmd.Flags().StringVar(&objectKey, "key", "", "Object key (default: file name)")
	cmd.Flags().BoolVar(&direct, "direct", false, "PUT the file to OSS directly instead of through a signed URL")
	return cmd
}
