package notify

import (
	"context"

	"github.com/Kashino17/pod-autom-sub000/internal/model"
)

// Notifier 定义通知接口。
type Notifier interface {
	// SendWinnerAlert 商品晋升爆款时通知店主。
	SendWinnerAlert(ctx context.Context, winner *model.WinnerProduct, product *model.Product, shopDomain string, toEmail string) error

	// SendFailureAlert 评估持续失败时通知店主。
	SendFailureAlert(ctx context.Context, shopDomain string, entity string, reason string, toEmail string) error
}
