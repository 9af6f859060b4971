package swap

// TxParameter is one labelled value in a peer bundle.
type TxParameter struct {
	ID    ParameterID `json:"id"`
	Value []byte      `json:"value"`
}

// SetTxParameter is the peer channel envelope: a batch of parameters for one
// sub-transaction of one swap.
type SetTxParameter struct {
	TxID    TxID           `json:"tx_id"`
	SubTxID SubTxID        `json:"sub_tx_id"`
	Params  []TxParameter  `json:"params"`
}

// AddParameter appends a parameter to the bundle.
func (m *SetTxParameter) AddParameter(id ParameterID, value []byte) *SetTxParameter {
	m.Params = append(m.Params, TxParameter{ID: id, Value: value})
	return m
}

// PeerChannel delivers parameter bundles to the counterparty. The transport
// persists the bundle before attempting delivery and retries until acked;
// Send only fails when the bundle cannot even be enqueued.
type PeerChannel interface {
	Send(msg SetTxParameter) error
}
