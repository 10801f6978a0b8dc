package a2a

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "Archive-Agents/internal/errors"
	"Archive-Agents/internal/wallet"
)

// SigningPayload 构造待签名的规范化负载: method、timestamp 与
// 规范化 JSON 参数按行拼接。参数为空时以空对象参与签名，
// 保证双方对同一消息得到相同的字节序列。
func SigningPayload(method string, timestamp int64, params json.RawMessage) ([]byte, error) {
	canonical, err := canonicalJSON(params)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s\n%d\n%s", method, timestamp, canonical)), nil
}

// canonicalJSON 重排 JSON 对象键序，消除序列化差异。
func canonicalJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "参数不是合法 JSON")
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "规范化参数失败")
	}
	return string(canonical), nil
}

// SignMessage 用钱包对消息签名并写入 Signature 字段。
func SignMessage(w *wallet.Wallet, msg *Message) error {
	payload, err := SigningPayload(msg.Method, msg.Timestamp, msg.Params)
	if err != nil {
		return err
	}
	sig, err := w.SignText(payload)
	if err != nil {
		return err
	}
	msg.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// RecoverSigner 从签名恢复发送方地址。
func RecoverSigner(msg Message) (string, error) {
	sigHex := strings.TrimPrefix(msg.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "签名不是合法十六进制")
	}
	payload, err := SigningPayload(msg.Method, msg.Timestamp, msg.Params)
	if err != nil {
		return "", err
	}
	return wallet.RecoverText(payload, sig)
}
