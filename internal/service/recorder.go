package service

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/kalatori/internal/domain"
	"github.com/punchamoorthee/kalatori/internal/eventbus"
	"github.com/punchamoorthee/kalatori/internal/logging"
	"github.com/punchamoorthee/kalatori/internal/store"
)

const recordTimeout = 5 * time.Second

// Recorder persists every status a monitor observes.
type Recorder struct {
	store store.Store
	log   logging.Logger
}

func NewRecorder(s store.Store, log logging.Logger) *Recorder {
	if log == nil {
		log = logging.Nop{}
	}
	return &Recorder{store: s, log: log}
}

func (r *Recorder) Attach(bus *eventbus.InMemoryBus) {
	bus.Subscribe(domain.EventUpdate, r.Handle)
}

// Handle saves the update carried by evt. A stale update arriving after a
// terminal status is logged and dropped.
func (r *Recorder) Handle(evt domain.Event) error {
	if evt.Update == nil {
		return nil
	}
	st := evt.Update.Status
	if st.PaymentAccount == "" {
		st.PaymentAccount = evt.Update.PaymentAccount
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	changed, err := r.store.SaveStatus(ctx, st)
	if errors.Is(err, store.ErrInvalidTransition) {
		r.log.Info("ignoring stale payment status", map[string]any{
			"order_id":       st.Order,
			"payment_status": string(st.PaymentStatus),
		})
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		r.log.Info("payment status recorded", map[string]any{
			"order_id":          st.Order,
			"payment_account":   st.PaymentAccount,
			"payment_status":    string(st.PaymentStatus),
			"withdrawal_status": string(st.WithdrawalStatus),
		})
	}
	return nil
}
