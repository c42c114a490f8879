// Package mysql 提供账本存储：余额记录的查询、状态转换的原子提交，以及内嵌的
// 数据库迁移。MemoryLedgerStore 用于测试和单进程部署，SQLLedgerStore 基于
// go-sql-driver/mysql，两者都不对 (owner, currency) 做唯一约束。
package mysql
