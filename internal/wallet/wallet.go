package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	xerrors "Archive-Agents/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet 持有代理的以太坊私钥，提供地址与 EIP-191 签名能力。
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// New 从十六进制私钥字符串构造钱包，允许带 0x 前缀。
func New(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if hexKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供钱包私钥")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析钱包私钥失败")
	}
	return fromKey(key), nil
}

// FromEnv 从环境变量读取私钥。
func FromEnv(envVar string) (*Wallet, error) {
	value := os.Getenv(envVar)
	if strings.TrimSpace(value) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("环境变量 %s 未设置钱包私钥", envVar))
	}
	return New(value)
}

// Generate 生成随机钱包，主要用于测试与本地演示。
func Generate() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "生成钱包私钥失败")
	}
	return fromKey(key), nil
}

func fromKey(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address 返回带校验和的钱包地址。
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// Key 返回底层私钥，供交易签名器使用。
func (w *Wallet) Key() *ecdsa.PrivateKey {
	return w.key
}

// SignText 对负载执行 EIP-191 personal_sign 签名。
func (w *Wallet) SignText(payload []byte) ([]byte, error) {
	digest := TextDigest(payload)
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "签名失败")
	}
	return sig, nil
}

// TextDigest 计算 EIP-191 前缀后的 keccak256 摘要。
func TextDigest(payload []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(payload), payload)
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverText 恢复 EIP-191 签名的签名者地址。
func RecoverText(payload, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "签名长度必须为 65 字节")
	}
	// 钱包实现普遍输出 v=27/28，恢复前归一化为 0/1。
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(TextDigest(payload), normalized)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "恢复签名者失败")
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
