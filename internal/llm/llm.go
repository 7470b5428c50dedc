package llm

import "context"

// Request 描述发送给大模型的一次调用。
type Request struct {
	// System 是固定的角色指令。
	System string
	// Prompt 是本次调用的上下文。
	Prompt string
	// JSON 要求模型只返回一个 JSON 对象。
	JSON      bool
	MaxTokens int
}

// Response 是大模型返回的原始文本。
type Response struct {
	Text  string
	Model string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 将普通函数适配为 Client。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
