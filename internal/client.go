package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client 中繼服務的 WebSocket 客戶端
//
// 供 tail 指令與端對端測試使用；寫入以互斥鎖序列化，讀取只能由單一 goroutine 進行。
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial 連接中繼服務，url 形如 ws://host:port/ws
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Emit 送出一個事件
func (c *Client) Emit(event string, data any) error {
	msg, err := Encode(event, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Next 讀取下一個事件
//
// ctx 的 deadline 會成為讀取期限；沒有 deadline 時一直等待到連接關閉。
func (c *Client) Next(ctx context.Context) (Message, error) {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return Message{}, err
	}

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return Message{}, fmt.Errorf("decode message: %w", err)
		}
		return msg, nil
	}
}

// Close 送出 close frame 並關閉連接
func (c *Client) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}
