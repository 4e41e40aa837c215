package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pysugar/tempmail-nexus/internal/inbox"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/spf13/cobra"
)

func newInboxCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List messages of the active mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := appFrom(cmd).inbox.ListMessages(cmd.Context(), page)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(result.Messages) == 0 {
				fmt.Fprintln(out, "Inbox is empty")
				return nil
			}
			printMessages(out, result.Messages)
			if result.HasMore {
				fmt.Fprintf(out, "\n%d messages total, more on --page %d\n", result.Total, page+1)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	return core(cmd)
}

func printMessages(w io.Writer, msgs []mailapi.Message) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tFROM\tSUBJECT\tRECEIVED")
	for _, m := range msgs {
		unread := "•"
		if m.Seen {
			unread = ""
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", unread, m.ID, m.From.Address, m.Subject, m.CreatedAt)
	}
	tw.Flush()
}

func newReadCmd() *cobra.Command {
	var keepUnread bool
	cmd := &cobra.Command{
		Use:   "read <message-id>",
		Short: "Show a message and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := appFrom(cmd).inbox
			var (
				msg *mailapi.MessageDetail
				err error
			)
			if keepUnread {
				msg, err = svc.GetMessage(cmd.Context(), args[0])
			} else {
				msg, err = svc.ReadMessage(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "From:    %s <%s>\n", msg.From.Name, msg.From.Address)
			to := make([]string, 0, len(msg.To))
			for _, a := range msg.To {
				to = append(to, a.Address)
			}
			fmt.Fprintf(out, "To:      %s\n", strings.Join(to, ", "))
			fmt.Fprintf(out, "Subject: %s\n", msg.Subject)
			fmt.Fprintf(out, "Date:    %s\n", msg.CreatedAt)
			for _, att := range msg.Attachments {
				fmt.Fprintf(out, "Attachment: %s (%s, %d bytes)\n", att.Filename, att.ContentType, att.Size)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, msg.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepUnread, "keep-unread", false, "Do not mark the message read")
	return core(cmd)
}

func newWatchCmd() *cobra.Command {
	return core(&cobra.Command{
		Use:   "watch",
		Short: "Poll the active mailbox and print new messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			out := cmd.OutOrStdout()
			if _, ok := a.session.Current(); !ok {
				return fmt.Errorf("not logged in")
			}

			unsubscribe := a.poller.Subscribe(func(ev inbox.Event) {
				switch ev.Type {
				case inbox.EventNewMessage:
					fmt.Fprintf(out, "📨 %s  %s  %s\n", ev.Message.ID, ev.Message.From.Address, ev.Message.Subject)
				case inbox.EventUpdate:
					a.log.Debugf("📬 %d messages in %s", len(ev.Messages), ev.Account)
				}
			})
			defer unsubscribe()

			a.poller.Start(cmd.Context())
			fmt.Fprintf(out, "Watching for new mail every %s, Ctrl-C to stop\n", a.poller.Interval())
			<-cmd.Context().Done()
			a.poller.Stop()
			return nil
		},
	})
}
