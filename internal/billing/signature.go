// Package billing は決済プロバイダーとの連携を提供する。
// Webhookの署名検証、イベントの冪等な処理、サブスクリプション状態の管理を行う。
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader はWebhookリクエストの署名ヘッダー名。
const SignatureHeader = "Billing-Signature"

// signatureTolerance は署名タイムスタンプの許容ずれ。
// これより古い（または未来の）タイムスタンプはリプレイとみなして拒否する。
const signatureTolerance = 5 * time.Minute

// VerifySignature はWebhook署名ヘッダーを検証する。
// ヘッダー形式は `t=<unix秒>,v1=<hex hmac-sha256>` で、
// 署名対象は `<t>.<生のリクエストボディ>`。
// 比較は一定時間比較で行い、タイミング攻撃を防ぐ。
func VerifySignature(secret string, header string, body []byte, now time.Time) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var timestampStr, signature string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestampStr = v
		case "v1":
			signature = v
		}
	}

	if timestampStr == "" || signature == "" {
		return fmt.Errorf("malformed signature header")
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp: %w", err)
	}

	eventTime := time.Unix(timestamp, 0)
	diff := now.Sub(eventTime)
	if diff < 0 {
		diff = -diff
	}
	if diff > signatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance: %s", eventTime.UTC().Format(time.RFC3339))
	}

	expected := computeSignature(secret, timestampStr, body)
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}

	if !hmac.Equal(expected, provided) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// computeSignature はHMAC-SHA256署名を計算する。
func computeSignature(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignPayload はテスト・開発用に署名ヘッダーの値を生成する。
func SignPayload(secret string, body []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	sig := computeSignature(secret, timestamp, body)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(sig))
}
