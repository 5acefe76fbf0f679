package main

import (
	"github.com/illmade-knight/go-queueworker/pkg/mail"
	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/spf13/cobra"
)

func newMailCmd(opts *rootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Run the mail worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMail(opts, !once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "handle a single poll of messages and exit")
	return cmd
}

func runMail(opts *rootOptions, runForever bool) error {
	a, err := newApp(opts, "mail-worker")
	if err != nil {
		return err
	}
	defer a.closeAll()
	ctx, stop := signalContext()
	defer stop()

	if err := a.startServer(); err != nil {
		return err
	}
	consumer, err := a.newConsumer(ctx)
	if err != nil {
		return err
	}
	mp, err := messagepipeline.NewMessageProcessor(consumer, mail.NewSendMailService(nil, a.reg, a.logger), a.reg, a.logger)
	if err != nil {
		return err
	}

	a.server.SetReady(true)
	a.logger.Info().Str("subscription", a.cfg.Queue.Subscription).Msg("Mail worker running.")
	mp.Run(ctx, runForever)
	return nil
}
