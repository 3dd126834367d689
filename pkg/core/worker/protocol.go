package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MessageType 消息类型
type MessageType string

const (
	// 父进程 -> worker
	MsgRun  MessageType = "run"
	MsgStop MessageType = "stop"
	// 双向
	MsgHeartbeat MessageType = "hb"
	// worker -> 父进程
	MsgDone  MessageType = "done"
	MsgError MessageType = "error"
)

// Message 父子进程之间的消息，每行一个JSON对象
type Message struct {
	Type    MessageType `json:"type"`
	Module  string      `json:"module,omitempty"`
	Skipped bool        `json:"skipped,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (m Message) String() string {
	switch m.Type {
	case MsgRun, MsgDone:
		return fmt.Sprintf("%s(%s)", m.Type, m.Module)
	case MsgError:
		return fmt.Sprintf("error(%s: %s)", m.Module, m.Error)
	}
	return string(m.Type)
}

// Codec JSON-lines编解码，Send可并发调用
type Codec struct {
	mu  sync.Mutex
	enc *json.Encoder
	dec *json.Decoder
}

// NewCodec 创建Codec
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		enc: json.NewEncoder(w),
		dec: json.NewDecoder(bufio.NewReader(r)),
	}
}

// Send 发送一条消息
func (c *Codec) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(msg)
}

// Recv 阻塞读取下一条消息，对端关闭时返回io.EOF
func (c *Codec) Recv() (Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
