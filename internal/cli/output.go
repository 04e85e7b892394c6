package cli

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/punchamoorthee/kalatori/internal/domain"
)

func (a *app) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.output == "yaml" {
		var node yaml.Node
		if err := yaml.Unmarshal(b, &node); err != nil {
			return err
		}
		blockStyle(&node)
		out, err := yaml.Marshal(&node)
		if err != nil {
			return err
		}
		_, err = a.out.Write(append([]byte("---\n"), out...))
		return err
	}

	_, err = a.out.Write(append(b, '\n'))
	return err
}

// blockStyle undoes the flow style yaml picks up when it parses JSON, so
// numbers keep their exact text and the document reads as plain YAML.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

type eventView struct {
	Type          domain.EventType     `json:"event"`
	Account       string               `json:"account"`
	Attempts      int                  `json:"attempts"`
	OrderID       string               `json:"order_id,omitempty"`
	PaymentStatus domain.PaymentStatus `json:"payment_status,omitempty"`
	Error         string               `json:"error,omitempty"`
	At            time.Time            `json:"at"`
}

func viewEvent(e domain.Event) eventView {
	v := eventView{Type: e.Type, Account: e.Account, Attempts: e.Attempts, At: e.At}
	if e.Update != nil {
		v.OrderID = e.Update.OrderID
		v.PaymentStatus = e.Update.Status.PaymentStatus
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	return v
}
