// Package auth 为节点 API 提供基于静态 Bearer 令牌的认证与按方法授权，
// 并把访问结果写入审计日志和安全日志。
package auth
