package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	callbackPrefix = "status"
	maxParallel    = 8
)

type TelegramConfig struct {
	Token    string
	AdminIDs []int64
	BaseURL  string
	Timeout  time.Duration
}

// Telegram sends order notifications through the Bot API. With no token
// configured every call is a no-op.
type Telegram struct {
	client   *resty.Client
	token    string
	adminIDs []int64
	logger   zerolog.Logger
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

type inlineButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64           `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

func NewTelegram(cfg TelegramConfig, logger zerolog.Logger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &Telegram{
		client:   client,
		token:    cfg.Token,
		adminIDs: cfg.AdminIDs,
		logger:   logger.With().Str("component", "telegram").Logger(),
	}
}

func (t *Telegram) Enabled() bool {
	return t.token != ""
}

// NotifyNewOrder messages every admin. Failures for one admin do not stop
// the others; all of them are returned joined.
func (t *Telegram) NotifyNewOrder(ctx context.Context, order domain.Order) error {
	if !t.Enabled() || len(t.adminIDs) == 0 {
		return nil
	}
	text := newOrderText(order)
	keyboard := orderKeyboard(order)

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(maxParallel)
	for _, adminID := range t.adminIDs {
		p.Go(func(ctx context.Context) error {
			if err := t.send(ctx, adminID, text, keyboard); err != nil {
				return fmt.Errorf("notify admin %d: %w", adminID, err)
			}
			return nil
		})
	}
	return p.Wait()
}

func (t *Telegram) NotifyStatusChange(ctx context.Context, order domain.Order) error {
	if !t.Enabled() || order.UserID == 0 {
		return nil
	}
	text := fmt.Sprintf("%s\n\nOrder: <code>%s</code>\nStatus: <b>%s</b>",
		statusHeadline(order.Status), shortID(order.ID), order.Status)
	return t.send(ctx, order.UserID, text, nil)
}

func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if !t.Enabled() {
		return nil
	}
	return t.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	})
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string, keyboard *inlineKeyboard) error {
	return t.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: keyboard,
	})
}

func (t *Telegram) call(ctx context.Context, method string, body any) error {
	var result apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post("/bot" + t.token + "/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode(), result.Description)
	}
	return nil
}

func newOrderText(order domain.Order) string {
	var b strings.Builder
	b.WriteString("<b>New order</b>\n\n")
	fmt.Fprintf(&b, "Order: <code>%s</code>\n", shortID(order.ID))
	fmt.Fprintf(&b, "Customer: %s\n", html.EscapeString(order.CustomerName))
	fmt.Fprintf(&b, "Phone: %s\n", html.EscapeString(order.Phone))
	fmt.Fprintf(&b, "Address: %s\n", html.EscapeString(order.Address))
	if order.Comment != "" {
		fmt.Fprintf(&b, "Comment: %s\n", html.EscapeString(order.Comment))
	}
	fmt.Fprintf(&b, "Total: %s\n\n", order.TotalAmount.String())
	b.WriteString("<b>Items:</b>\n")
	for i, it := range order.Items {
		name := html.EscapeString(it.ProductName)
		if it.VariantName != "" {
			name += " (" + html.EscapeString(it.VariantName) + ")"
		}
		fmt.Fprintf(&b, "%d. %s × %d\n", i+1, name, it.Quantity)
	}
	return b.String()
}

func orderKeyboard(order domain.Order) *inlineKeyboard {
	button := func(text string, status domain.OrderStatus) inlineButton {
		return inlineButton{Text: text, CallbackData: CallbackData(order.ID, status)}
	}
	return &inlineKeyboard{InlineKeyboard: [][]inlineButton{
		{{Text: "Chat with customer", URL: "tg://user?id=" + strconv.FormatInt(order.UserID, 10)}},
		{button("Accept", domain.OrderStatusAccepted), button("Shipped", domain.OrderStatusShipped)},
		{button("Done", domain.OrderStatusDone), button("Cancel", domain.OrderStatusCanceled)},
	}}
}

func statusHeadline(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusAccepted:
		return "Your order has been accepted."
	case domain.OrderStatusProcessing, domain.OrderStatusNew:
		return "Your order is being processed."
	case domain.OrderStatusShipped:
		return "Your order is on its way."
	case domain.OrderStatusDone:
		return "Your order is complete. Thank you!"
	case domain.OrderStatusCanceled:
		return "Your order has been canceled."
	default:
		return "Your order status changed."
	}
}

// CallbackData encodes a status button as status|<order_id>|<status>.
func CallbackData(orderID string, status domain.OrderStatus) string {
	return callbackPrefix + "|" + orderID + "|" + string(status)
}

// ParseCallback decodes CallbackData output.
func ParseCallback(data string) (string, domain.OrderStatus, error) {
	parts := strings.Split(data, "|")
	if len(parts) != 3 || parts[0] != callbackPrefix || parts[1] == "" {
		return "", "", domain.Invalid("malformed callback %q", data)
	}
	status, err := domain.ParseOrderStatus(parts[2])
	if err != nil {
		return "", "", err
	}
	return parts[1], status, nil
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
