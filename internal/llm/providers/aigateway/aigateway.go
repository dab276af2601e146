// internal/llm/providers/aigateway/aigateway.go
// AI Gateway 提供者：对接自建网关，网关把上游模型输出转成行帧协议
// （0:增量 / e:、d:结束 / error:终止），本提供者按帧还原成标准流式分片。
package aigateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/scriptloom/scriptloom/internal/llm"
	"github.com/scriptloom/scriptloom/internal/streaming"
)

func init() {
	llm.Register("aigateway", func() llm.Provider {
		return &Provider{
			models: []string{
				"gateway/drafting-large",
				"gateway/drafting-fast",
			},
		}
	})
}

type Provider struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
	models       []string
}

func (p *Provider) Initialize(config map[string]string) error {
	baseURL, exists := config["base_url"]
	if !exists || baseURL == "" {
		return errors.New("AI Gateway 地址未配置")
	}
	p.baseURL = strings.TrimRight(baseURL, "/")

	// 网关部署在内网时可以不带密钥
	p.apiKey = config["api_key"]
	p.client = &http.Client{}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gateway/drafting-large"
	}

	if customModels, exists := config["custom_models"]; exists && customModels != "" {
		var models []string
		if err := json.Unmarshal([]byte(customModels), &models); err == nil && len(models) > 0 {
			p.models = models
		}
	}
	return nil
}

func (p *Provider) GetName() string {
	return "AI Gateway"
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

// FetchAvailableModels 网关不提供模型目录接口，列表以配置为准
func (p *Provider) FetchAvailableModels(ctx context.Context) error {
	return nil
}

func (p *Provider) SetCustomModels(models []string) {
	if len(models) > 0 {
		p.models = models
	}
}

// CompleteText 汇聚流式分片得到完整文本，网关只有流式端点
func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	stream, err := p.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	finishReason := "stop"
	finalMessage := ""
	modelName := ""
	for chunk := range stream {
		if chunk.ModelName != "" {
			modelName = chunk.ModelName
		}
		if chunk.Done {
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
			finalMessage = chunk.Text
			continue
		}
		text.WriteString(chunk.Text)
	}
	if finishReason == "error" {
		if finalMessage != "" {
			return nil, fmt.Errorf("AI Gateway 流式响应中断: %s", finalMessage)
		}
		return nil, errors.New("AI Gateway 流式响应中断")
	}

	if modelName == "" {
		modelName = req.Model
		if modelName == "" {
			modelName = p.defaultModel
		}
	}
	return &llm.CompletionResponse{
		Text:         text.String(),
		FinishReason: finishReason,
		ModelName:    modelName,
		ProviderName: p.GetName(),
	}, nil
}

// StreamCompletion 打开网关流并逐行解帧
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	req.Model = model
	req.Stream = true

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/stream", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson, text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("AI Gateway 错误(%d): %s", httpResp.StatusCode, string(body))
	}

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer httpResp.Body.Close()
		defer close(respChan)

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			frame := streaming.DecodeFrame(scanner.Text())
			switch frame.Kind {
			case streaming.FrameDelta:
				respChan <- llm.StreamResponse{Text: frame.Delta, ModelName: model}
			case streaming.FrameEnd:
				respChan <- llm.StreamResponse{FinishReason: "stop", ModelName: model, Done: true}
				return
			case streaming.FrameError:
				// 错误帧的消息随终止块带给调用方
				respChan <- llm.StreamResponse{Text: frame.Message, FinishReason: "error", ModelName: model, Done: true}
				return
			default:
				// 状态信封与未知前缀按协议约定忽略
			}
		}

		if err := scanner.Err(); err != nil {
			respChan <- llm.StreamResponse{Text: err.Error(), FinishReason: "error", ModelName: model, Done: true}
			return
		}
		// 连接正常收尾但没有显式结束帧，按结束处理
		respChan <- llm.StreamResponse{FinishReason: "stop", ModelName: model, Done: true}
	}()

	return respChan, nil
}
