package migrations

import "embed"

// Files 暴露账本、智能体执行记录与任务状态的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
