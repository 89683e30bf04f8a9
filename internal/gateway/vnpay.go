package gateway

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tablepay/api/internal/apperr"
	"github.com/tablepay/api/internal/enum"
)

const (
	vnpVersion    = "2.1.0"
	vnpDateLayout = "20060102150405"
	vnpExpiry     = 15 * time.Minute
)

// vnpLocation is the timezone VNPay expects for create and expire dates.
var vnpLocation = time.FixedZone("ICT", 7*60*60)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// VNPay builds signed redirect URLs. VNPay confirms payments with a GET IPN
// whose query string carries the same kind of signature.
type VNPay struct {
	cfg VNPayConfig
	now func() time.Time
}

func NewVNPay(cfg VNPayConfig) *VNPay {
	return &VNPay{cfg: cfg, now: time.Now}
}

func (v *VNPay) Method() string { return enum.PaymentMethodVNPay }

func (v *VNPay) CreatePayment(_ context.Context, req PaymentRequest) (PaymentResult, error) {
	now := v.now().In(vnpLocation)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", vnpVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", v.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CreateDate", now.Format(vnpDateLayout))
	params.Set("vnp_ExpireDate", now.Add(vnpExpiry).Format(vnpDateLayout))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_OrderInfo", "Bill "+req.BillRequestID.String())
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_ReturnUrl", v.cfg.ReturnURL)
	params.Set("vnp_TxnRef", req.PaymentID.String())

	signData := vnpSignData(params)
	hash := hmacSHA512Hex(v.cfg.HashSecret, signData)

	return PaymentResult{
		TransactionID: req.PaymentID.String(),
		PaymentURL:    v.cfg.PayURL + "?" + signData + "&vnp_SecureHash=" + hash,
	}, nil
}

// VerifyCallback checks an IPN or return-URL query string.
func (v *VNPay) VerifyCallback(payload []byte) (Notification, error) {
	query, err := url.ParseQuery(string(payload))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: vnpay query: %v", apperr.ErrInvalidInput, err)
	}
	if !equalHex(hmacSHA512Hex(v.cfg.HashSecret, vnpSignData(query)), query.Get("vnp_SecureHash")) {
		return Notification{}, apperr.ErrSignatureInvalid
	}

	amount, err := decimal.NewFromString(query.Get("vnp_Amount"))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: vnp_Amount %q", apperr.ErrInvalidInput, query.Get("vnp_Amount"))
	}

	code := query.Get("vnp_ResponseCode")
	n := Notification{
		Method:         enum.PaymentMethodVNPay,
		PaymentRef:     query.Get("vnp_TxnRef"),
		Success:        code == "00",
		GatewayTransID: query.Get("vnp_TransactionNo"),
		Amount:         amount.Div(decimal.NewFromInt(100)),
		CheckAmount:    true,
	}
	if !n.Success {
		n.FailureReason = "vnpay response code " + code
	}
	return n, nil
}

// vnpSignData renders the vnp_ parameters, minus the hash fields, sorted by
// key with query-escaped values. The same string is the URL query.
func vnpSignData(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}
