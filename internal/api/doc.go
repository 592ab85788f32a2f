// Package api 通过 REST 接口暴露风险评分、地址与交易查询、智能体调用和
// 异步任务管理，并附带 Prometheus 指标与健康检查端点。
package api
