// Package params 管理每个计算的参数快照（best / last）与时效闸门。
package params

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
)

// Values 是一个计算的参数集合，key 为参数名。
// 值必须可 JSON 序列化；比较时按 JSON 编码比较，int 10 与 float 10.0 视为相同。
type Values map[string]any

// Merge 用 best 补齐 current 中缺失的 key，返回新集合。
func Merge(current, best Values) Values {
	out := make(Values, len(current)+len(best))
	for k, v := range best {
		out[k] = v
	}
	for k, v := range current {
		out[k] = v
	}
	return out
}

// IsDirty 判断 current 中是否有任一 key 与 last 不同（包括 last 中缺失）。
// last 为空表示从未运行过，总是 dirty。
func IsDirty(current, last Values) bool {
	if last == nil {
		return true
	}
	for k, v := range current {
		old, ok := last[k]
		if !ok {
			return true
		}
		if !sameValue(v, old) {
			return true
		}
	}
	return false
}

func sameValue(a, b any) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ea) == string(eb)
}

// Hash 返回参数集合的稳定摘要（map key 排序后的 JSON 的 sha256）。
// 单实体缓存条目记录该摘要，参数变化时条目失效。
func Hash(v Values) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// Decode 解析持久化的参数快照；空输入返回 nil。
func Decode(b []byte) (Values, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v Values
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode 序列化参数快照。
func Encode(v Values) ([]byte, error) {
	if v == nil {
		v = Values{}
	}
	return json.Marshal(v)
}
