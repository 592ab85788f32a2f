// Package config 加载 ChainGuard 的 JSON 配置文件，补齐默认值，并允许通过
// .env 与环境变量覆盖连接串和密钥。相对路径统一以配置文件所在目录为基准。
package config
