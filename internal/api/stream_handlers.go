// internal/api/stream_handlers.go
package api

import (
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/services"
	"github.com/scriptloom/scriptloom/internal/streaming"
	"github.com/gin-gonic/gin"
)

// setSSEHeaders 设置SSE响应头
func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
}

// writeSSEFrame 以SSE data行发送一条流式帧
func writeSSEFrame(c *gin.Context, frame string) {
	fmt.Fprintf(c.Writer, "data: %s\n\n", frame)
	c.Writer.Flush()
}

// GetTransformResults 一次性查询生成结果
//
// 断线客户端的回退端点，返回与流式信封相同的 {status, results} 形状，
// 不包响应信封，客户端可以直接反序列化。
func (h *Handler) GetTransformResults(c *gin.Context) {
	transformID := c.Param("id")
	if transformID == "" {
		h.Response.BadRequest(c, "变换ID不能为空")
		return
	}

	envelope, err := h.GenerationService.ResumeResults(transformID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "变换", "变换ID: "+transformID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, envelope)
}

// StreamTransform 订阅生成流的SSE端点
//
// 活动流：先回放已累计的文本增量，再续上实时增量，收尾时发
// 结果信封和终止标记。已收尾的变换：直接把落盘结果装进信封发出。
func (h *Handler) StreamTransform(c *gin.Context) {
	transformID := c.Param("id")
	if transformID == "" {
		h.Response.BadRequest(c, "变换ID不能为空")
		return
	}

	stream, live := h.GenerationService.StreamFor(transformID)
	if !live {
		h.streamFinishedTransform(c, transformID)
		return
	}

	// 设置SSE响应头
	setSSEHeaders(c)

	// 获取客户端连接
	clientGone := c.Request.Context().Done()

	// 连接建立信封
	writeSSEFrame(c, streaming.EncodeEnvelope(streaming.StatusEnvelope{
		Status: streaming.EnvelopeConnected,
	}))

	// 回放与实时事件出自同一把锁，不丢不重
	replay, events, cancel := stream.Attach()
	defer cancel()

	if replay != "" {
		writeSSEFrame(c, streaming.EncodeDelta(replay))
	}

	// 发送心跳和更新
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			// 客户端断开连接
			return
		case ev, ok := <-events:
			if !ok {
				// 消费跟不上节拍被踢掉了，客户端重连后由回放补齐
				return
			}
			if ev.Err != nil {
				writeSSEFrame(c, streaming.EncodeError(ev.Err.Error()))
				return
			}
			if ev.End {
				h.writeTerminalFrames(c, stream)
				return
			}
			writeSSEFrame(c, streaming.EncodeDelta(ev.Delta))
		case <-ticker.C:
			// 发送心跳以保持连接
			fmt.Fprintf(c.Writer, ": heartbeat %d\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// writeTerminalFrames 发送收尾帧：结果信封加流终止标记
func (h *Handler) writeTerminalFrames(c *gin.Context, stream *services.GenerationStream) {
	status := streaming.EnvelopeCompleted
	if stream.Status() != streaming.StatusCompleted {
		status = streaming.EnvelopePartialResults
	}

	writeSSEFrame(c, streaming.EncodeEnvelope(streaming.StatusEnvelope{
		Status:  status,
		Results: stream.Results(),
	}))
	writeSSEFrame(c, streaming.EncodeEnd("stop"))
	writeSSEFrame(c, streaming.EncodeDone("stop"))
}

// streamFinishedTransform 对不在内存中的变换走落盘结果
func (h *Handler) streamFinishedTransform(c *gin.Context, transformID string) {
	envelope, err := h.GenerationService.ResumeResults(transformID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "变换", "变换ID: "+transformID)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	setSSEHeaders(c)

	writeSSEFrame(c, streaming.EncodeEnvelope(streaming.StatusEnvelope{
		Status: streaming.EnvelopeConnected,
	}))
	writeSSEFrame(c, streaming.EncodeEnvelope(*envelope))
	writeSSEFrame(c, streaming.EncodeEnd("stop"))
	writeSSEFrame(c, streaming.EncodeDone("stop"))
}
