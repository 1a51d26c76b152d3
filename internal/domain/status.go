package domain

type GatewayStatus string

const (
	GatewayStatusPending GatewayStatus = "pending"
	GatewayStatusSuccess GatewayStatus = "success"
	GatewayStatusFailed  GatewayStatus = "failed"
)

func (s GatewayStatus) IsValid() bool {
	switch s {
	case GatewayStatusPending, GatewayStatusSuccess, GatewayStatusFailed:
		return true
	}
	return false
}

// StatusReport is the gateway's answer to a status check.
type StatusReport struct {
	Status        GatewayStatus
	TransactionID string
	Message       string
}

// CallbackEvent is the terminal notification relayed over the realtime channel.
type CallbackEvent struct {
	ReferenceID   string        `json:"reference_id"`
	Status        GatewayStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Message       string        `json:"message,omitempty"`
}

func (e CallbackEvent) Report() StatusReport {
	return StatusReport{
		Status:        e.Status,
		TransactionID: e.TransactionID,
		Message:       e.Message,
	}
}
