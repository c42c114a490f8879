// Package api 暴露钱包节点的 REST 接口：开立、查询与注销钱包，发起转账，查询汇率，
// 以及在预言机节点上替换汇率表。错误统一以 {code, message} 返回，状态码由错误码决定。
package api
