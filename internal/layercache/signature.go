package layercache

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"strconv"

	"geolayer/internal/join"
)

// 文档注释：计算可视化签名
// 背景：由目标变量、渲染描述、记录数与记录指纹推导的确定性字符串；
// 相同签名必须代表完全相同的请求结果，作为单航道与缓存命中的键。
// 约束：指纹使用 FNV-64a；记录顺序参与散列（上游产出本身有序，序变即请求变）。
func Signature(targetVariable string, renderer []byte, records []join.Record) string {
	rh := fnv.New64a()
	_, _ = rh.Write(renderer)
	fh := fnv.New64a()
	var buf [8]byte
	for i := range records {
		r := &records[i]
		_, _ = fh.Write([]byte(r.RawAreaID))
		fh.Write([]byte{0})
		if r.HasScore {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(r.Score))
			_, _ = fh.Write(buf[:])
		} else {
			fh.Write([]byte{0xff})
		}
	}
	return "v1:" + targetVariable +
		":" + strconv.Itoa(len(records)) +
		":" + strconv.FormatUint(rh.Sum64(), 16) +
		":" + strconv.FormatUint(fh.Sum64(), 16)
}
