package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/kalatori/internal/domain"
	"github.com/punchamoorthee/kalatori/internal/eventbus"
	"github.com/punchamoorthee/kalatori/internal/monitor"
)

var errNotResolved = errors.New("attempt budget exhausted before the order resolved")

func (a *app) watchCmd() *cobra.Command {
	var (
		interval    time.Duration
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "watch <payment-account>",
		Short: "Poll a payment account until its order resolves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus := eventbus.NewInMemoryBus()
			bus.SubscribeAll(func(e domain.Event) error {
				return a.print(viewEvent(e))
			})

			m := monitor.New(a.client, a.monitorConfig(interval, maxAttempts),
				monitor.WithPublisher(bus),
				monitor.WithLogger(a.log),
			)
			if !m.Start(cmd.Context(), args[0]) {
				return fmt.Errorf("could not start monitoring %q", args[0])
			}

			final, err := m.Wait(cmd.Context())
			if err != nil {
				m.Stop()
				return err
			}
			return sessionResult(final)
		},
	}

	monitorFlags(cmd, &interval, &maxAttempts)
	return cmd
}

// sessionResult turns a finished monitor into the command's exit status.
func sessionResult(st monitor.State) error {
	switch st.Phase {
	case monitor.PhaseCompleted:
		return nil
	case monitor.PhaseAborted:
		return fmt.Errorf("monitoring aborted: %w", st.LastError)
	case monitor.PhaseTimedOut:
		if st.LastStatus != nil && st.LastStatus.PaymentStatus == domain.PaymentTimedOut {
			return errors.New("order timed out at the daemon")
		}
		return errNotResolved
	default:
		return fmt.Errorf("monitoring ended in phase %s", st.Phase)
	}
}
