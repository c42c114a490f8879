// Package flow 实现钱包的业务协调器：开立、注销与转账。
//
// 转账由发起方驱动，经过 Start、InputsParsed、LocalSideBuilt、
// CounterpartySideExchanged、RateAttested、TransactionAssembled、
// SignatureCollected、Finalized 八个步骤。对端通过 TransferResponder 在
// wallet.transfer 协议上应答；需要汇率证明时，发起方只把汇率命令及签名者
// 列表暴露给预言机。每个挂起点都有独立的超时时间，不做重试。
package flow
