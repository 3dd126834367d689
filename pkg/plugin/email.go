package plugin

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/LENAX/sim-runner/pkg/core/engine"
)

// EmailPlugin 邮件通知插件（对外导出）
//
// 参数：smtp_host、smtp_port（默认25）、username、password、from、to（逗号分隔）、
// timeout（连接与整次发送的超时，默认10s）
type EmailPlugin struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	timeout  time.Duration
	enabled  bool

	// send 发送函数，测试中替换
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// DefaultEmailTimeout 默认SMTP超时
const DefaultEmailTimeout = 10 * time.Second

// NewEmailPlugin 创建邮件通知插件
func NewEmailPlugin() Plugin {
	return &EmailPlugin{}
}

// Name 插件名称
func (e *EmailPlugin) Name() string {
	return "email"
}

// Init 初始化插件
func (e *EmailPlugin) Init(params map[string]string) error {
	e.smtpHost = params["smtp_host"]
	if e.smtpHost == "" {
		return fmt.Errorf("smtp_host参数不能为空")
	}

	e.smtpPort = 25
	if s := params["smtp_port"]; s != "" {
		port, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("smtp_port参数格式错误: %w", err)
		}
		e.smtpPort = port
	}

	e.timeout = DefaultEmailTimeout
	if s := params["timeout"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return fmt.Errorf("timeout参数格式错误: %q", s)
		}
		e.timeout = d
	}

	e.username = params["username"]
	e.password = params["password"]

	e.from = params["from"]
	if e.from == "" {
		return fmt.Errorf("from参数不能为空")
	}
	e.to = nil
	for _, addr := range strings.Split(params["to"], ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			e.to = append(e.to, addr)
		}
	}
	if len(e.to) == 0 {
		return fmt.Errorf("to参数不能为空")
	}

	e.enabled = true
	return nil
}

// Execute 发送通知邮件
func (e *EmailPlugin) Execute(ctx context.Context, data Data) error {
	if !e.enabled {
		return fmt.Errorf("邮件插件未初始化")
	}
	msg := e.buildMessage(Subject(data), Body(data))
	addr := fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}
	if e.send != nil {
		return e.send(addr, auth, e.from, e.to, []byte(msg))
	}
	return e.deliver(ctx, addr, auth, []byte(msg))
}

// Subject 邮件主题
func Subject(data Data) string {
	switch data.Event {
	case engine.EventRunFinished:
		if data.Failed {
			return fmt.Sprintf("[运行失败] %s", data.RunID)
		}
		return fmt.Sprintf("[运行完成] %s", data.RunID)
	case engine.EventRunStarted:
		return fmt.Sprintf("[运行开始] %s", data.RunID)
	case engine.EventModuleFailed:
		return fmt.Sprintf("[模块失败] %s - %s", data.Module, data.RunID)
	case engine.EventWorkerTimeout:
		return fmt.Sprintf("[Worker超时] %s - %s", data.Worker, data.RunID)
	default:
		return fmt.Sprintf("[sim-runner] %s", data.Event)
	}
}

// Body 邮件正文
func Body(data Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "事件类型: %s\n", data.Event)
	fmt.Fprintf(&b, "运行ID: %s\n", data.RunID)
	fmt.Fprintf(&b, "时间: %s\n", data.Timestamp.Format("2006-01-02 15:04:05"))
	if data.Module != "" {
		fmt.Fprintf(&b, "模块: %s\n", data.Module)
	}
	if data.Worker != "" {
		fmt.Fprintf(&b, "Worker: %s\n", data.Worker)
	}
	if data.Message != "" {
		fmt.Fprintf(&b, "信息: %s\n", data.Message)
	}
	return b.String()
}

func (e *EmailPlugin) buildMessage(subject, body string) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)
	return msg.String()
}

// deliver 建立带超时的SMTP会话并发送，465端口使用隐式TLS，其余端口在服务端支持时升级STARTTLS
func (e *EmailPlugin) deliver(ctx context.Context, addr string, auth smtp.Auth, msg []byte) error {
	timeout := e.timeout
	if timeout <= 0 {
		timeout = DefaultEmailTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("连接SMTP服务器失败: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	tlsConfig := &tls.Config{ServerName: e.smtpHost}
	if e.smtpPort == 465 {
		conn = tls.Client(conn, tlsConfig)
	}
	client, err := smtp.NewClient(conn, e.smtpHost)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	if e.smtpPort != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS失败: %w", err)
			}
		}
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP认证失败: %w", err)
		}
	}
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	for _, to := range e.to {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("设置收件人失败: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
