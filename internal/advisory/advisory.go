// Package advisory 抽象外部推理服务，为竞价决策提供建议文本。
package advisory

import "context"

// Client 是推理服务的最小接口，返回建议文本。
// 文本优先是结构化 JSON，解析由调用方负责。
type Client interface {
	Advise(ctx context.Context, prompt string) (string, error)
}
