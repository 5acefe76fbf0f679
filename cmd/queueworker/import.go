package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-queueworker/pkg/importer"
	"github.com/spf13/cobra"
)

type importOptions struct {
	file   string
	bucket string
	object string
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	iopts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Publish the lines of a file to the work topic",
		Long: `Read a newline-delimited file, either local (--file) or in Cloud Storage
(--bucket and --object), and publish its lines in batches to the configured topic.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(opts, iopts)
		},
	}
	cmd.Flags().StringVar(&iopts.file, "file", "", "local file to import")
	cmd.Flags().StringVar(&iopts.bucket, "bucket", "", "Cloud Storage bucket holding the file")
	cmd.Flags().StringVar(&iopts.object, "object", "", "Cloud Storage object name")
	cmd.MarkFlagsMutuallyExclusive("file", "bucket")
	cmd.MarkFlagsRequiredTogether("bucket", "object")
	return cmd
}

func runImport(opts *rootOptions, iopts *importOptions) error {
	a, err := newApp(opts, "importer")
	if err != nil {
		return err
	}
	defer a.closeAll()
	ctx, stop := signalContext()
	defer stop()

	src, err := a.newSource(ctx, iopts)
	if err != nil {
		return err
	}
	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return err
	}
	sender, err := importer.NewBatchSender(publisher, a.cfg.Importer.MaxConcurrent, a.reg, a.logger)
	if err != nil {
		return err
	}
	im, err := importer.New(a.cfg.Importer.BatchSize, sender, a.logger)
	if err != nil {
		return err
	}

	stats, err := im.Run(ctx, src)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d lines in %d batches from %s\n", stats.Lines, stats.Batches, src.Name())
	return nil
}

func (a *app) newSource(ctx context.Context, iopts *importOptions) (importer.Source, error) {
	switch {
	case iopts.file != "":
		return importer.FileSource{Path: iopts.file}, nil
	case iopts.bucket != "":
		client, err := storage.NewClient(ctx, a.clientOptions()...)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		return importer.GCSSource{
			Client: importer.NewGCSClientAdapter(client),
			Bucket: iopts.bucket,
			Object: iopts.object,
		}, nil
	default:
		return nil, errors.New("one of --file or --bucket/--object is required")
	}
}
