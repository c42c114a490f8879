package flow

import (
	"OpenFX-Ledger/internal/ledger"
	"OpenFX-Ledger/internal/proofs"
)

// ProtocolTransfer 是转账应答方监听的会话协议。
const ProtocolTransfer = "wallet.transfer"

// 流程名称，用于指标与告警。
const (
	FlowCreate            = "wallet.create"
	FlowDelete            = "wallet.delete"
	FlowTransfer          = "wallet.transfer"
	FlowTransferResponder = "wallet.transfer.responder"
)

// TransferOffer 是发起方发给对端的第一条消息。
type TransferOffer struct {
	Amount ledger.Amount `json:"amount"`
}

// RecordReply 携带对端在该币种下的钱包记录。
type RecordReply struct {
	State ledger.StateAndRef `json:"state"`
}

// SignRequest 携带已由发起方（以及预言机）签名的状态转换。
type SignRequest struct {
	Transition ledger.SignedTransition `json:"transition"`
}

// SignResponse 携带对端的签名。
type SignResponse struct {
	Signature proofs.Signature `json:"signature"`
}

// FinalityNotice 将公证回执转发给对端。
type FinalityNotice struct {
	Receipt ledger.Receipt `json:"receipt"`
}
