package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/bondings/bondings/internal/ledger"
)

func NewEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events [name...]",
		Short: "Stream ledger events",
		Long:  "Follow launches, trades, transfers, stage changes and settlements. Pass names to filter.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stream, err := readOnlyClient().Events(ctx, args...)
			if err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				stream.Close()
			}()

			if !JSONOutput {
				Info("Streaming events (Ctrl+C to stop)")
			}
			for {
				ev, err := stream.Next()
				if err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return err
				}
				if JSONOutput {
					if err := printJSON(ev); err != nil {
						return err
					}
					continue
				}
				fmt.Println(describeEvent(ev))
			}
		},
	}
}

func describeEvent(ev *ledger.Event) string {
	ts := ev.Time.Local().Format("15:04:05")
	who := FormatAddress(ev.Account.Hex())
	switch ev.Type {
	case ledger.EventLaunched:
		return fmt.Sprintf("%s  %-8s %s launched by %s", ts, ev.Type, ev.Name, who)
	case ledger.EventBuy, ledger.EventSell:
		return fmt.Sprintf("%s  %-8s %s %d by %s for %s (fee %s), supply %d",
			ts, ev.Type, ev.Name, ev.Amount, who, formatValue(ev.Value), formatValue(ev.Fee), ev.TotalShare)
	case ledger.EventTransfer:
		return fmt.Sprintf("%s  %-8s %s %d from %s to %s",
			ts, ev.Type, ev.Name, ev.Amount, who, FormatAddress(ev.To.Hex()))
	case ledger.EventStageChanged:
		return fmt.Sprintf("%s  %-8s %s %s -> %s", ts, "stage", ev.Name, ev.PrevStage, ev.Stage)
	case ledger.EventRetrieved:
		return fmt.Sprintf("%s  %-8s %s settled by %s, token %s",
			ts, ev.Type, ev.Name, who, ev.Token.Hex())
	default:
		return fmt.Sprintf("%s  %-8s %s", ts, ev.Type, ev.Name)
	}
}
