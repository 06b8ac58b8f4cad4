package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"caskwatch/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendPriceDrop 发送降价邮件。SMTP 未配置时直接跳过，不算错误。
func (n *EmailNotifier) SendPriceDrop(ctx context.Context, drop PriceDrop, toEmail string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("[CaskWatch] Price drop: %s", drop.Name))

	m.SetBody("text/html", buildPriceDropBody(drop))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("price drop notification sent",
		slog.String("to", toEmail),
		slog.String("name", drop.Name),
		slog.Int("old_price", drop.OldPrice),
		slog.Int("new_price", drop.NewPrice))
	return nil
}

func buildPriceDropBody(drop PriceDrop) string {
	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .title { font-size: 16px; margin-bottom: 16px; }
  .cta { display: inline-block; padding: 12px 20px; background: #22c55e; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[CaskWatch] Price Drop Detected</div>
    <div class="content">
      <div class="price">%s → %s</div>
      <div class="title">%s</div>
      <div style="text-align:center; margin-bottom: 12px;">
        <a class="cta" href="%s" target="_blank">View at %s</a>
      </div>
      <div class="footer">Store: %s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		FormatUSD(drop.OldPrice), FormatUSD(drop.NewPrice),
		drop.Name, drop.ProductURL, drop.StoreName, drop.StoreName)
}

// FormatUSD 将最小货币单位（美分）格式化为 "$1,234.56"。
func FormatUSD(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	dollars := cents / 100
	rest := cents % 100

	s := fmt.Sprintf("%d", dollars)
	n := len(s)
	out := make([]byte, 0, n+4)
	for i, ch := range []byte(s) {
		out = append(out, ch)
		if (n-i-1)%3 == 0 && i != n-1 {
			out = append(out, ',')
		}
	}
	return fmt.Sprintf("%s$%s.%02d", sign, string(out), rest)
}
