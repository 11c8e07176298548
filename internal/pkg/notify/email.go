package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Kashino17/pod-autom-sub000/internal/config"
	"github.com/Kashino17/pod-autom-sub000/internal/model"

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

// SendWinnerAlert 发送爆款晋升通知邮件。
func (n *EmailNotifier) SendWinnerAlert(ctx context.Context, winner *model.WinnerProduct, product *model.Product, shopDomain string, toEmail string) error {
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
	m.SetHeader("Subject", fmt.Sprintf("[PodAutom] 🏆 新爆款：%s", product.Title))

	m.SetBody("text/html", n.buildWinnerBody(winner, product, shopDomain))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("winner alert sent",
		slog.String("to", toEmail),
		slog.Uint64("product_id", uint64(product.ID)))
	return nil
}

// SendFailureAlert 发送评估失败告警邮件。
func (n *EmailNotifier) SendFailureAlert(ctx context.Context, shopDomain string, entity string, reason string, toEmail string) error {
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
	m.SetHeader("Subject", "[PodAutom] ⚠️ 自动化评估失败")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>评估失败告警</h2>
    <p>店铺 <b>%s</b> 的 %s 评估连续失败，已暂停本周期处理。</p>
    <p style="color: #ef4444;">%s</p>
    <p>请检查平台授权与网络状况后在控制台手动重试。</p>
  </div>
</body>
</html>`, shopDomain, entity, reason)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("failure alert sent", slog.String("to", toEmail), slog.String("shop", shopDomain))
	return nil
}

// SendVerificationCode 发送邮箱验证码。
func (n *EmailNotifier) SendVerificationCode(toEmail string, code string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[PodAutom] 邮箱验证码")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>PodAutom 邮箱验证</h2>
    <p>你的验证码是：</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>验证码有效期 10 分钟。</p>
  </div>
</body>
</html>`, code)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("verification email sent", slog.String("to", toEmail))
	return nil
}

func (n *EmailNotifier) buildWinnerBody(winner *model.WinnerProduct, product *model.Product, shopDomain string) string {
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
  .title { font-size: 18px; font-weight: bold; margin-bottom: 12px; }
  .stat { display: inline-block; margin-right: 16px; padding: 8px 12px; background: #f1f5f9; border-radius: 8px; }
  .stat b { color: #22c55e; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[PodAutom] 🏆 新爆款晋升</div>
    <div class="content">
      <div class="title">%s</div>
      <div>
        <span class="stat">3 天销量 <b>%.1f</b></span>
        <span class="stat">7 天销量 <b>%.1f</b></span>
        <span class="stat">14 天销量 <b>%.1f</b></span>
      </div>
      <p>已自动创建扩量广告系列并打上 winner 标签。</p>
      <div class="footer">店铺: %s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template, product.Title, winner.Sales3d, winner.Sales7d, winner.Sales14d, shopDomain)
}
