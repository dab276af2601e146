// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/scriptloom/scriptloom/internal/di"
	apperrors "github.com/scriptloom/scriptloom/internal/errors"
	"github.com/scriptloom/scriptloom/internal/lineage"
	"github.com/scriptloom/scriptloom/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketHandler 处理 WebSocket 相关的 HTTP 请求
type WebSocketHandler struct {
	projectService   *services.ProjectService
	transformService *services.TransformService
	patchService     *services.PatchService
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler() *WebSocketHandler {
	container := di.GetContainer()

	return &WebSocketHandler{
		projectService:   container.Get("project").(*services.ProjectService),
		transformService: container.Get("transform").(*services.TransformService),
		patchService:     container.Get("patch").(*services.PatchService),
	}
}

// ProjectWebSocket 处理项目 WebSocket 连接
//
// 连接期间持续推送谱系变更（待审补丁集的增减），客户端也可以
// 主动查询待审列表和补丁预览。
func (wh *WebSocketHandler) ProjectWebSocket(c *gin.Context) {
	projectID := c.Param("id")
	if projectID == "" {
		log.Printf("❌ WebSocket 连接失败：项目ID缺失")
		http.Error(c.Writer, "项目ID缺失", http.StatusBadRequest)
		return
	}

	// 升级前先确认项目存在
	if _, err := wh.projectService.GetProject(projectID); err != nil {
		if apperrors.IsNotFoundError(err) {
			http.Error(c.Writer, "项目不存在", http.StatusNotFound)
			return
		}
		http.Error(c.Writer, "读取项目失败", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ 项目 WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	// 获取参数
	clientID := c.DefaultQuery("client_id", "anonymous")

	// 创建客户端
	client := &WebSocketClient{
		conn:      &WebSocketConnWrapper{conn},
		projectID: projectID,
		clientID:  clientID,
		send:      make(chan []byte, 256),
		closed:    0,
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}

	// 注册客户端
	select {
	case wsManager.register <- client:
		// Success
	default:
		log.Printf("❌ 无法注册 WebSocket 客户端，注册通道已满")
		return
	}

	defer func() {
		// Unregister with timeout to prevent blocking
		done := make(chan bool, 1)
		go func() {
			wsManager.unregister <- client
			done <- true
		}()

		select {
		case <-done:
			// Successfully unregistered
		case <-time.After(5 * time.Second):
			// Timeout - client might not be properly unregistered
			log.Printf("⚠️ WebSocket 客户端注销超时")
		}
	}()

	// 启动读写协程
	go wh.handleWebSocketWrites(client)
	go wh.handleWebSocketReads(client)

	// 发送连接确认消息
	wh.sendWelcomeMessage(client, projectID, clientID)

	// 订阅谱系变更并转发给客户端，订阅后立刻收到当前状态
	updates, stop := wh.transformService.Graph().Watch(c.Request.Context(), projectID)
	defer stop()

	for {
		select {
		case <-c.Request.Context().Done():
			log.Printf("📱 项目 %s 的 WebSocket 连接已关闭 (客户端: %s)", projectID, clientID)
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			wh.sendLineageUpdate(client, update)
		}
	}
}

// sendLineageUpdate 推送一条谱系变更
func (wh *WebSocketHandler) sendLineageUpdate(client *WebSocketClient, update lineage.Update) {
	client.SendMessage(map[string]interface{}{
		"type":                  "lineage:update",
		"project_id":            update.ProjectID,
		"pending_patch_set_ids": update.PendingPatchSetIDs,
		"updated_at":            update.UpdatedAt.Format(time.RFC3339),
	})
}

// handleWebSocketReads 处理 WebSocket 读取
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient) {
	defer func() {
		if !client.IsClosed() {
			select {
			case wsManager.unregister <- client:
			case <-time.After(1 * time.Second):
				log.Printf("⚠️ 读取协程关闭时注销超时")
			}
		}
	}()

	// 设置读取超时和ping处理
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if client.IsClosed() {
			break
		}

		// 设置当前读取超时
		client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket 读取错误: %v", err)
			}
			break
		}

		// 解析JSON消息
		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			log.Printf("⚠️ JSON解析失败: %v", err)
			continue
		}

		// 更新活跃时间
		client.UpdatePing()

		// 处理收到的消息
		wh.handleMessage(client, message)
	}
}

// handleWebSocketWrites 处理 WebSocket 写入
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		// Close send channel gracefully if not already closed
		// Check if client is already marked as closed using atomic operation
		if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
			// Close send channel safely with panic recovery
			func() {
				defer func() {
					if recover() != nil {
						// Channel was already closed, which is fine
					}
				}()
				close(client.send)
			}()
			// Close the connection after closing the channel
			client.conn.Close()
		} else {
			// Channel might already be marked as closed, but try to close it safely anyway
			// This handles edge cases where multiple goroutines might try to close
			func() {
				defer func() {
					if recover() != nil {
						// Channel was already closed, which is fine
					}
				}()
				close(client.send)
			}()
			// Close the connection
			client.conn.Close()
		}
	}()

	for {
		select {
		case message, ok := <-client.send:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed, send close message
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket 写入失败: %v", err)
				return
			}

		case <-ticker.C:
			if client.IsClosed() {
				return
			}

			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("❌ WebSocket ping 失败: %v", err)
				return
			}
			client.UpdatePing()

		case <-time.After(60 * time.Second):
			// Emergency timeout check - if nothing received in 60 seconds, close connection
			if client.IsClosed() {
				return
			}
		}
	}
}

// handleMessage 处理收到的 WebSocket 消息
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, message map[string]interface{}) {
	msgType, ok := message["type"].(string)
	if !ok {
		log.Printf("⚠️ 收到无效的消息类型")
		return
	}

	switch msgType {
	case "pending_patch_sets":
		wh.handlePendingPatchSets(client)
	case "preview_patch_set":
		wh.handlePatchPreview(client, message)
	case "ping":
		wh.handlePing(client)
	default:
		log.Printf("⚠️ 未知的消息类型: %s", msgType)
	}
}

// handlePendingPatchSets 查询项目当前的待审补丁集
func (wh *WebSocketHandler) handlePendingPatchSets(client *WebSocketClient) {
	if wh.patchService == nil {
		wh.sendError(client, "补丁服务不可用")
		return
	}

	patchSets, err := wh.patchService.PendingPatchSets(client.projectID)
	if err != nil {
		wh.sendError(client, "查询待审补丁集失败: "+err.Error())
		return
	}

	client.SendMessage(map[string]interface{}{
		"type":       "pending_patch_sets",
		"project_id": client.projectID,
		"patch_sets": patchSets,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// handlePatchPreview 生成补丁集的前后对照
func (wh *WebSocketHandler) handlePatchPreview(client *WebSocketClient, message map[string]interface{}) {
	patchSetID, ok := message["patch_set_id"].(string)
	if !ok {
		wh.sendError(client, "缺少补丁集ID")
		return
	}

	if wh.patchService == nil {
		wh.sendError(client, "补丁服务不可用")
		return
	}

	preview, err := wh.patchService.Preview(patchSetID)
	if err != nil {
		wh.sendError(client, "生成补丁预览失败: "+err.Error())
		return
	}

	client.SendMessage(map[string]interface{}{
		"type":      "patch_set_preview",
		"preview":   preview,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handlePing 处理ping消息
func (wh *WebSocketHandler) handlePing(client *WebSocketClient) {
	pong := map[string]interface{}{
		"type":      "pong",
		"timestamp": time.Now().Unix(),
	}

	client.SendMessage(pong)
}

// sendWelcomeMessage 发送欢迎消息
func (wh *WebSocketHandler) sendWelcomeMessage(client *WebSocketClient, projectID, clientID string) {
	welcomeMsg := map[string]interface{}{
		"type":       "connected",
		"project_id": projectID,
		"client_id":  clientID,
		"timestamp":  time.Now().Format(time.RFC3339),
		"message":    "WebSocket 连接已建立",
	}

	client.SendMessage(welcomeMsg)
}

// sendError 发送错误消息
func (wh *WebSocketHandler) sendError(client *WebSocketClient, errorMsg string) {
	errorResponse := map[string]interface{}{
		"type":      "error",
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if msgBytes, err := json.Marshal(errorResponse); err == nil {
		select {
		case client.send <- msgBytes:
		default:
			log.Printf("⚠️ 无法发送错误消息到客户端，队列已满")
		}
	}
}
