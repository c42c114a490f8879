// Package transport 提供参与方之间的点对点会话。
//
// 会话建立在 Mailbox 之上：发起方向对端的 inbox:{party} 投递开启消息，
// 之后双方通过 session:{id}:{party} 按序交换 JSON 消息。同一会话内消息保持顺序，
// 不同会话之间互不影响。
package transport
