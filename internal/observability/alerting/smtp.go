package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPEmailSender 通过标准 SMTP 协议投递告警邮件。
type SMTPEmailSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPEmailSender 创建 SMTP 邮件发送器。
func NewSMTPEmailSender(host string, port int, username, password, from string) (*SMTPEmailSender, error) {
	if host == "" {
		return nil, errors.New("SMTP 服务器地址为空")
	}
	if from == "" {
		return nil, errors.New("发件人地址为空")
	}
	return &SMTPEmailSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}, nil
}

// Send 发送一封纯文本邮件。
// net/smtp 不支持按请求传递 context，仅在拨号前检查取消状态。
func (s *SMTPEmailSender) Send(ctx context.Context, subject, content string, to []string) error {
	if len(to) == 0 {
		return errors.New("收件人列表为空")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(content)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	if err := smtp.SendMail(addr, auth, s.from, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("发送告警邮件失败: %w", err)
	}
	return nil
}

var _ EmailSender = (*SMTPEmailSender)(nil)
