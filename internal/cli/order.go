package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/kalatori/internal/domain"
	"github.com/punchamoorthee/kalatori/internal/monitor"
	"github.com/punchamoorthee/kalatori/internal/service"
)

func (a *app) orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Create, inspect and manage orders",
	}

	cmd.AddCommand(a.orderCreateCmd())
	cmd.AddCommand(a.orderGetCmd())
	cmd.AddCommand(a.orderUpdateCmd())
	cmd.AddCommand(a.orderWithdrawCmd())
	return cmd
}

func (a *app) orderCreateCmd() *cobra.Command {
	var (
		amount      string
		currency    string
		callback    string
		watch       bool
		interval    time.Duration
		maxAttempts int
	)

	cmd := &cobra.Command{
		Use:   "create [order-id]",
		Short: "Create an order; a random id is used when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := uuid.NewString()
			if len(args) == 1 {
				orderID = args[0]
			}

			amt, err := domain.NewAmount(amount)
			if err != nil {
				return err
			}
			req := domain.CreateOrderRequest{Amount: amt, Currency: currency, Callback: callback}

			if !watch {
				if err := req.Validate(); err != nil {
					return err
				}
				resp, err := a.client.CreateOrder(cmd.Context(), orderID, req)
				if err != nil {
					return err
				}
				return a.print(resp.Data)
			}

			svc := service.NewPaymentService(a.client, service.Config{
				Monitor:   a.monitorConfig(interval, maxAttempts),
				AutoStart: true,
			}, service.WithLogger(a.log))
			defer svc.Close()
			svc.Events().SubscribeAll(func(e domain.Event) error {
				return a.print(viewEvent(e))
			})

			st, err := svc.CreateOrder(cmd.Context(), orderID, req)
			if err != nil {
				return err
			}
			if err := a.print(st); err != nil {
				return err
			}
			if st.PaymentStatus.Terminal() {
				return nil
			}

			final, err := svc.Monitor().Wait(cmd.Context())
			if err != nil {
				return err
			}
			return sessionResult(final)
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "Amount to charge")
	cmd.Flags().StringVar(&currency, "currency", "", "Currency code, e.g. DOT or USDC")
	cmd.Flags().StringVar(&callback, "callback", "", "URL the daemon notifies on payment")
	cmd.Flags().BoolVar(&watch, "watch", false, "Monitor the payment account until the order resolves")
	monitorFlags(cmd, &interval, &maxAttempts)
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("currency")
	return cmd
}

func (a *app) orderGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show the current status of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.GetOrderStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(resp.Data)
		},
	}
}

func (a *app) orderUpdateCmd() *cobra.Command {
	var amount, currency, callback string

	cmd := &cobra.Command{
		Use:   "update <order-id>",
		Short: "Change the amount, currency or callback of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req domain.UpdateOrderRequest
			if amount != "" {
				amt, err := domain.NewAmount(amount)
				if err != nil {
					return err
				}
				req.Amount = &amt
			}
			req.Currency = currency
			req.Callback = callback
			if req.Amount == nil && req.Currency == "" && req.Callback == "" {
				return fmt.Errorf("nothing to update: set --amount, --currency or --callback")
			}

			resp, err := a.client.UpdateOrder(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return a.print(resp.Data)
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "New amount")
	cmd.Flags().StringVar(&currency, "currency", "", "New currency code")
	cmd.Flags().StringVar(&callback, "callback", "", "New callback URL")
	return cmd
}

func (a *app) orderWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <order-id>",
		Short: "Force withdrawal of the funds held for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.ForceWithdrawal(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(resp.Data)
		},
	}
}

func (a *app) monitorConfig(interval time.Duration, maxAttempts int) monitor.Config {
	cfg := monitor.Config{Interval: a.cfg.Monitor.Interval, MaxAttempts: a.cfg.Monitor.MaxAttempts}
	if interval > 0 {
		cfg.Interval = interval
	}
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	return cfg
}
