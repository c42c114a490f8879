// Package node 将一个参与方的全部组件装配在一起：密钥、目录、账本存储、会话传输、
// 钱包协调器与转账应答方。节点名称与 network.notary 一致时同时承担公证职责，
// 启用 oracle 时同时提供汇率查询与会签。
package node
