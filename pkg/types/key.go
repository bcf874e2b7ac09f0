package types

import "sort"

// Key DHT 键
//
// 键空间按字典序排成一个环：最大键之后回绕到最小键。
type Key string

// InRange 判断 x 是否位于从 from 顺时针到 to 的闭区间上
//
//   - from <= to: from <= x <= to
//   - from >  to: 区间跨越环的末端，x >= from 或 x <= to
func InRange(from, to, x Key) bool {
	if from <= to {
		return from <= x && x <= to
	}
	return x >= from || x <= to
}

// SortKeys 去重并按环序排序
func SortKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SearchKey 返回 k 在已排序切片中的位置（不存在时返回插入位置）
func SearchKey(sorted []Key, k Key) int {
	return sort.Search(len(sorted), func(i int) bool { return sorted[i] >= k })
}
