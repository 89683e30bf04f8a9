package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/enum"
)

type ZaloPayConfig struct {
	AppID       string
	Key1        string
	Key2        string
	Endpoint    string
	CallbackURL string
	RedirectURL string
}

type ZaloPay struct {
	cfg    ZaloPayConfig
	hc     *http.Client
	logger *logrus.Logger
	now    func() time.Time
}

func NewZaloPay(cfg ZaloPayConfig, hc *http.Client, logger *logrus.Logger) *ZaloPay {
	return &ZaloPay{cfg: cfg, hc: hc, logger: logger, now: time.Now}
}

func (z *ZaloPay) Method() string { return enum.PaymentMethodZaloPay }

type zaloEmbedData struct {
	PaymentID   string `json:"payment_id"`
	RedirectURL string `json:"redirecturl,omitempty"`
}

type zaloCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
	QRCode        string `json:"qr_code"`
	ZPTransToken  string `json:"zp_trans_token"`
}

// ZaloPayCallback is the body ZaloPay posts to the callback URL.
type ZaloPayCallback struct {
	Data string `json:"data"`
	MAC  string `json:"mac"`
	Type int    `json:"type"`
}

// ZaloPayCallbackData is the JSON document carried in ZaloPayCallback.Data.
type ZaloPayCallbackData struct {
	AppID      int64  `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	AppTime    int64  `json:"app_time"`
	AppUser    string `json:"app_user"`
	Amount     int64  `json:"amount"`
	EmbedData  string `json:"embed_data"`
	Item       string `json:"item"`
	ZPTransID  int64  `json:"zp_trans_id"`
	ServerTime int64  `json:"server_time"`
	Channel    int    `json:"channel"`
	// Only status 1 settles a payment; a missing status is not a success.
	Status *int `json:"status,omitempty"`
}

func (z *ZaloPay) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	now := z.now().In(vnpLocation)
	appTransID := now.Format("060102") + "_" + strings.ReplaceAll(req.PaymentID.String(), "-", "")
	appTime := strconv.FormatInt(now.UnixMilli(), 10)
	amount := strconv.FormatInt(req.Amount, 10)
	embed, _ := json.Marshal(zaloEmbedData{PaymentID: req.PaymentID.String(), RedirectURL: z.cfg.RedirectURL})
	item := "[]"
	appUser := "tablepay"

	mac := hmacSHA256Hex(z.cfg.Key1, strings.Join([]string{
		z.cfg.AppID, appTransID, appUser, amount, appTime, string(embed), item,
	}, "|"))

	form := url.Values{}
	form.Set("app_id", z.cfg.AppID)
	form.Set("app_trans_id", appTransID)
	form.Set("app_user", appUser)
	form.Set("app_time", appTime)
	form.Set("amount", amount)
	form.Set("item", item)
	form.Set("embed_data", string(embed))
	form.Set("description", fmt.Sprintf("Bill payment - %d orders", req.OrderCount))
	form.Set("bank_code", "")
	form.Set("callback_url", z.cfg.CallbackURL)
	form.Set("mac", mac)

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, z.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return PaymentResult{}, fmt.Errorf("zalopay create order: %w", err)
	}
	hr.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	hresp, err := z.hc.Do(hr)
	if err != nil {
		z.logger.WithContext(ctx).WithError(err).Error("zalopay create order request failed")
		return PaymentResult{}, fmt.Errorf("zalopay create order: %w", err)
	}
	defer hresp.Body.Close()

	respBody, err := io.ReadAll(hresp.Body)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("zalopay read response: %w", err)
	}

	var resp zaloCreateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		z.logger.WithContext(ctx).WithField("status", hresp.StatusCode).Error(string(respBody))
		return PaymentResult{}, fmt.Errorf("zalopay decode response: %w", err)
	}
	if resp.ReturnCode != 1 {
		return PaymentResult{}, fmt.Errorf("zalopay create order: return code %d: %s", resp.ReturnCode, resp.ReturnMessage)
	}

	return PaymentResult{
		TransactionID: appTransID,
		PaymentURL:    resp.OrderURL,
		QRCode:        resp.QRCode,
	}, nil
}

// SignCallback returns the mac ZaloPay attaches to a callback data string.
func (z *ZaloPay) SignCallback(data string) string {
	return hmacSHA256Hex(z.cfg.Key2, data)
}

// VerifyCallback checks the mac over the raw data string with key2 and
// reads the payment id from embed_data.
func (z *ZaloPay) VerifyCallback(payload []byte) (Notification, error) {
	var cb ZaloPayCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return Notification{}, fmt.Errorf("%w: zalopay callback: %v", apperr.ErrInvalidInput, err)
	}
	if !equalHex(z.SignCallback(cb.Data), cb.MAC) {
		return Notification{}, apperr.ErrSignatureInvalid
	}

	var data ZaloPayCallbackData
	if err := json.Unmarshal([]byte(cb.Data), &data); err != nil {
		return Notification{}, fmt.Errorf("%w: zalopay callback data: %v", apperr.ErrInvalidInput, err)
	}
	var embed zaloEmbedData
	if err := json.Unmarshal([]byte(data.EmbedData), &embed); err != nil {
		return Notification{}, fmt.Errorf("%w: zalopay embed_data: %v", apperr.ErrInvalidInput, err)
	}

	n := Notification{
		Method:         enum.PaymentMethodZaloPay,
		PaymentRef:     embed.PaymentID,
		Success:        data.Status != nil && *data.Status == 1,
		GatewayTransID: strconv.FormatInt(data.ZPTransID, 10),
	}
	switch {
	case data.Status == nil:
		n.FailureReason = "zalopay status missing"
	case !n.Success:
		n.FailureReason = fmt.Sprintf("zalopay status %d", *data.Status)
	}
	return n, nil
}
