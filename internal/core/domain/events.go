package domain

// TransactionPlacedEvent is published when a transaction has been persisted
// IN_PROGRESS and handed off for asynchronous processing.
type TransactionPlacedEvent struct {
	TransactionID string            `json:"transactionId"`
	BuyerID       string            `json:"buyerId"`
	Status        TransactionStatus `json:"status"`
	OrderLine     []OrderLine       `json:"orderLine"`
}

// TransactionStatusEvent carries the terminal outcome of a processed
// transaction back to the originating service.
type TransactionStatusEvent struct {
	TransactionID string            `json:"transactionId"`
	Status        TransactionStatus `json:"status"`
	OrderLine     []OrderLine       `json:"orderLine"`
}

func NewTransactionPlacedEvent(tx UserTransaction) TransactionPlacedEvent {
	return TransactionPlacedEvent{
		TransactionID: tx.ID,
		BuyerID:       tx.BuyerID,
		Status:        TransactionStatusInProgress,
		OrderLine:     tx.Lines,
	}
}
