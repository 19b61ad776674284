package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jjestrada2/farmane/internal/orchestrator"
	"github.com/jjestrada2/farmane/internal/store"
)

type chatFlags struct {
	configPath     string
	mapID          string
	userID         string
	conversationID uint
}

func newSendCmd() *cobra.Command {
	var f chatFlags

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to Kue and wait for the reply",
		Long: `Runs one message through the assistant in-process, printing progress
notices while tools run and the new part of the transcript at the end.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, f, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to Farmane config file")
	cmd.Flags().StringVarP(&f.mapID, "map", "m", "", "map id (required)")
	cmd.Flags().StringVarP(&f.userID, "user", "u", "", "user id (required)")
	cmd.Flags().UintVar(&f.conversationID, "conversation", 0, "conversation id (0 starts a new one)")
	cmd.MarkFlagRequired("map")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runSend(cmd *cobra.Command, f chatFlags, message string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	p := newPrinter(cmd.OutOrStdout())

	a, err := buildApp(ctx, f.configPath, appOpts{Notifier: &terminalNotifier{p: p}})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.service.Send(ctx, orchestrator.SendRequest{
		ConversationID: f.conversationID,
		MapID:          f.mapID,
		UserID:         f.userID,
		Message:        message,
		AwaitEnd:       true,
	})
	if res == nil {
		return err
	}

	msgs, verr := a.store.Visible(ctx, res.ConversationID, f.userID)
	if verr != nil {
		return errors.Join(err, verr)
	}
	for _, m := range msgs {
		if m.ID > res.MessageID {
			p.message(m)
		}
	}
	fmt.Fprintf(p.w, "%s\n", p.paint(ansiDim, fmt.Sprintf("conversation %d: %s", res.ConversationID, res.State)))
	return err
}

func newCancelCmd() *cobra.Command {
	var f chatFlags

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the run in progress on a map",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to Farmane config file")
	cmd.Flags().StringVarP(&f.mapID, "map", "m", "", "map id (required)")
	cmd.Flags().StringVarP(&f.userID, "user", "u", "", "user id (required)")
	cmd.MarkFlagRequired("map")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runCancel(cmd *cobra.Command, f chatFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx, f.configPath, appOpts{Notifier: &terminalNotifier{p: newPrinter(cmd.ErrOrStderr())}})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.Cancel(ctx, f.mapID, f.userID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for map %s\n", f.mapID)
	return nil
}

func newTranscriptCmd() *cobra.Command {
	var f chatFlags

	cmd := &cobra.Command{
		Use:   "transcript <conversation-id>",
		Short: "Print a conversation as the user sees it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uint
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}
			f.conversationID = id
			return runTranscript(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to Farmane config file")
	cmd.Flags().StringVarP(&f.userID, "user", "u", "", "owning user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runTranscript(cmd *cobra.Command, f chatFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	_, gormDB, err := connectFromConfig(f.configPath)
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	st, err := store.New(store.Opts{DB: gormDB})
	if err != nil {
		return err
	}

	msgs, err := st.Visible(ctx, f.conversationID, f.userID)
	if err != nil {
		return err
	}
	p := newPrinter(cmd.OutOrStdout())
	for _, m := range msgs {
		p.message(m)
	}
	return nil
}
