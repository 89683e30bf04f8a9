package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/enum"
)

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
}

type MoMo struct {
	cfg    MoMoConfig
	hc     *http.Client
	logger *logrus.Logger
}

func NewMoMo(cfg MoMoConfig, hc *http.Client, logger *logrus.Logger) *MoMo {
	return &MoMo{cfg: cfg, hc: hc, logger: logger}
}

func (m *MoMo) Method() string { return enum.PaymentMethodMoMo }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type momoCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
	QRCodeURL   string `json:"qrCodeUrl"`
}

// MoMoIPN is the body MoMo posts to the IPN URL.
type MoMoIPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

func (m *MoMo) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	id := req.PaymentID.String()
	body := momoCreateRequest{
		PartnerCode: m.cfg.PartnerCode,
		AccessKey:   m.cfg.AccessKey,
		RequestID:   id,
		Amount:      req.Amount,
		OrderID:     id,
		OrderInfo:   fmt.Sprintf("Payment for %d orders", req.OrderCount),
		RedirectURL: m.cfg.RedirectURL,
		IpnURL:      m.cfg.IPNURL,
		ExtraData:   "",
		RequestType: "captureWallet",
		Lang:        "vi",
	}
	body.Signature = hmacSHA256Hex(m.cfg.SecretKey, m.createSignData(body))

	reqBuff, _ := json.Marshal(body)
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewBuffer(reqBuff))
	if err != nil {
		return PaymentResult{}, fmt.Errorf("momo create payment: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")

	hresp, err := m.hc.Do(hr)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Error("momo create payment request failed")
		return PaymentResult{}, fmt.Errorf("momo create payment: %w", err)
	}
	defer hresp.Body.Close()

	respBody, err := io.ReadAll(hresp.Body)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("momo read response: %w", err)
	}

	var resp momoCreateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		m.logger.WithContext(ctx).WithField("status", hresp.StatusCode).Error(string(respBody))
		return PaymentResult{}, fmt.Errorf("momo decode response: %w", err)
	}
	if resp.ResultCode != 0 {
		return PaymentResult{}, fmt.Errorf("momo create payment: result code %d: %s", resp.ResultCode, resp.Message)
	}

	return PaymentResult{
		TransactionID: resp.RequestID,
		PaymentURL:    resp.PayURL,
		QRCode:        resp.QRCodeURL,
	}, nil
}

func (m *MoMo) createSignData(r momoCreateRequest) string {
	return "accessKey=" + m.cfg.AccessKey +
		"&amount=" + strconv.FormatInt(r.Amount, 10) +
		"&extraData=" + r.ExtraData +
		"&ipnUrl=" + r.IpnURL +
		"&orderId=" + r.OrderID +
		"&orderInfo=" + r.OrderInfo +
		"&partnerCode=" + r.PartnerCode +
		"&redirectUrl=" + r.RedirectURL +
		"&requestId=" + r.RequestID +
		"&requestType=" + r.RequestType
}

func (m *MoMo) ipnSignData(n MoMoIPN) string {
	return "accessKey=" + m.cfg.AccessKey +
		"&amount=" + strconv.FormatInt(n.Amount, 10) +
		"&extraData=" + n.ExtraData +
		"&message=" + n.Message +
		"&orderId=" + n.OrderID +
		"&orderInfo=" + n.OrderInfo +
		"&orderType=" + n.OrderType +
		"&partnerCode=" + n.PartnerCode +
		"&payType=" + n.PayType +
		"&requestId=" + n.RequestID +
		"&responseTime=" + strconv.FormatInt(n.ResponseTime, 10) +
		"&resultCode=" + strconv.Itoa(n.ResultCode) +
		"&transId=" + strconv.FormatInt(n.TransID, 10)
}

// SignIPN returns the signature MoMo would attach to n.
func (m *MoMo) SignIPN(n MoMoIPN) string {
	return hmacSHA256Hex(m.cfg.SecretKey, m.ipnSignData(n))
}

// VerifyCallback checks a JSON IPN body. orderId carries the payment id.
func (m *MoMo) VerifyCallback(payload []byte) (Notification, error) {
	var ipn MoMoIPN
	if err := json.Unmarshal(payload, &ipn); err != nil {
		return Notification{}, fmt.Errorf("%w: momo ipn: %v", apperr.ErrInvalidInput, err)
	}
	if !equalHex(m.SignIPN(ipn), ipn.Signature) {
		return Notification{}, apperr.ErrSignatureInvalid
	}

	n := Notification{
		Method:         enum.PaymentMethodMoMo,
		PaymentRef:     ipn.OrderID,
		Success:        ipn.ResultCode == 0,
		GatewayTransID: strconv.FormatInt(ipn.TransID, 10),
	}
	if !n.Success {
		n.FailureReason = ipn.Message
	}
	return n, nil
}
