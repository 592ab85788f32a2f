package seed

import _ "embed"

// Demo 是内置的演示账本，包含三个诈骗登记、三个钱包画像与三笔交易。
//
//go:embed demo.yaml
var Demo []byte
