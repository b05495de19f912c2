package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// HashPrefix 标明哈希算法，便于以后替换算法时区分旧记录。
const HashPrefix = "sha256:"

// HashTrace 计算 trace 的规范哈希：解码后重新 json.Marshal（对象键有序），
// 再对结果取 sha256。数字保留原始字面量，避免大整数精度丢失。
func HashTrace(trace json.RawMessage) (string, error) {
	canonical, err := canonicalJSON(trace)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode trace: trailing data after JSON value")
	}
	return json.Marshal(v)
}

// NormalizeHash 去掉算法前缀并转小写，用于比较调用方提交的哈希。
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.TrimPrefix(h, HashPrefix)
}

// CanonicalHash 把 sha256 摘要统一成 "sha256:" + 小写 hex，作为账本主键；
// 不是 64 位 hex 摘要的 hash 视为不透明字符串，只去掉首尾空白。
func CanonicalHash(h string) string {
	n := NormalizeHash(h)
	if isHexDigest(n) {
		return HashPrefix + n
	}
	return strings.TrimSpace(h)
}

func isHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// MatchesHash 判断 claimed 是否等于 trace 的规范哈希；trace 无法解析时返回 false。
func MatchesHash(claimed string, trace json.RawMessage) bool {
	computed, err := HashTrace(trace)
	if err != nil {
		return false
	}
	return NormalizeHash(claimed) == NormalizeHash(computed)
}

func sameTrace(a, b json.RawMessage) bool {
	ca, errA := canonicalJSON(a)
	cb, errB := canonicalJSON(b)
	if errA != nil || errB != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca, cb)
}
