// Package config 加载钱包节点的 JSON 配置（路径由 FXLEDGER_CONFIG 指定），
// 并在用户未填写时补齐默认值。网络拓扑与汇率表是独立的 YAML 文件，分别由
// identity 与 oracle 包解析。
package config
