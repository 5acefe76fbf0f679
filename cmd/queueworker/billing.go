package main

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-queueworker/pkg/billing"
	"github.com/illmade-knight/go-queueworker/pkg/bqstore"
	"github.com/illmade-knight/go-queueworker/pkg/config"
	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/spf13/cobra"
)

func newBillingCmd(opts *rootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Run the billing worker",
		Long: `Consume billing records, process each debt once, and publish one notification
per debt. Redelivered records are recognised through the idempotency cache.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBilling(opts, !once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "handle a single poll of messages and exit")
	return cmd
}

func runBilling(opts *rootOptions, runForever bool) error {
	a, err := newApp(opts, "billing-worker")
	if err != nil {
		return err
	}
	defer a.closeAll()
	ctx, stop := signalContext()
	defer stop()

	if err := a.startServer(); err != nil {
		return err
	}
	dedup, err := a.newCache(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return err
	}
	notifier, err := a.newNotifier(ctx, publisher)
	if err != nil {
		return err
	}
	processor, err := a.newBillingProcessor(ctx)
	if err != nil {
		return err
	}
	consumer, err := a.newConsumer(ctx)
	if err != nil {
		return err
	}

	chain := billing.NewChain(dedup, processor, notifier, a.cfg.Cache.DataExpiration, a.reg, a.logger)
	mp, err := messagepipeline.NewMessageProcessor(consumer, messagepipeline.ChainHandler(chain, a.logger), a.reg, a.logger)
	if err != nil {
		return err
	}

	a.server.SetReady(true)
	a.logger.Info().Str("subscription", a.cfg.Queue.Subscription).Msg("Billing worker running.")
	mp.Run(ctx, runForever)
	a.logger.Info().Msg("Billing worker shutting down.")
	return nil
}

// newNotifier returns the direct publisher or a started batch dispatcher, per config.
func (a *app) newNotifier(ctx context.Context, publisher topicPublisher) (billing.Notifier, error) {
	if a.cfg.Notifier.Mode == config.NotifyDirect {
		return messagepipeline.DirectNotifier{Publisher: publisher}, nil
	}
	dispatcher, err := messagepipeline.NewBatchDispatcher(&messagepipeline.BatchDispatcherConfig{
		BatchThreshold: a.cfg.Notifier.BatchThreshold,
		FlushInterval:  a.cfg.Notifier.FlushInterval,
		PublishTimeout: a.cfg.Topic.PublishTimeout,
	}, publisher, a.reg, a.logger)
	if err != nil {
		return nil, err
	}
	dispatcher.Start(ctx)
	// Registered after the publisher, so it runs first and its final flush still
	// has a live publisher.
	a.onClose(dispatcher.Stop)
	return dispatcher, nil
}

// newBillingProcessor returns the BigQuery ledger when enabled, otherwise a logger.
func (a *app) newBillingProcessor(ctx context.Context) (billing.Processor, error) {
	if !a.cfg.Ledger.Enabled {
		return billing.LogProcessor{Logger: a.logger}, nil
	}
	client, err := bqstore.NewProductionBigQueryClient(ctx, a.cfg.ProjectID, a.cfg.CredentialsFile, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return client.Close() })
	inserter, err := bqstore.NewLedgerInserter(ctx, client, &bqstore.LedgerConfig{
		DatasetID: a.cfg.Ledger.DatasetID,
		TableID:   a.cfg.Ledger.TableID,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("ledger table: %w", err)
	}
	return bqstore.NewLedgerProcessor(inserter, a.logger)
}
