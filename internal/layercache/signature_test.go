package layercache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"geolayer/internal/join"
)

func sigRecords() []join.Record {
	return []join.Record{
		{RawAreaID: "00001", Score: 5, HasScore: true},
		{RawAreaID: "00002", Score: 3, HasScore: true},
		{RawAreaID: "label only"},
	}
}

func TestSignatureDeterministic(t *testing.T) {
	a := Signature("income", []byte(`{"mode":"polygon"}`), sigRecords())
	b := Signature("income", []byte(`{"mode":"polygon"}`), sigRecords())
	require.Equal(t, a, b)
}

func TestSignatureSensitivity(t *testing.T) {
	base := Signature("income", []byte(`{"mode":"polygon"}`), sigRecords())

	require.NotEqual(t, base, Signature("density", []byte(`{"mode":"polygon"}`), sigRecords()))
	require.NotEqual(t, base, Signature("income", []byte(`{"mode":"point"}`), sigRecords()))

	// 记录数、分数、顺序任一变化都是新请求
	require.NotEqual(t, base, Signature("income", []byte(`{"mode":"polygon"}`), sigRecords()[:2]))
	changed := sigRecords()
	changed[0].Score = 6
	require.NotEqual(t, base, Signature("income", []byte(`{"mode":"polygon"}`), changed))
	swapped := sigRecords()
	swapped[0], swapped[1] = swapped[1], swapped[0]
	require.NotEqual(t, base, Signature("income", []byte(`{"mode":"polygon"}`), swapped))

	// 无分与零分是不同的请求
	zero := sigRecords()
	zero[2].HasScore = true
	require.NotEqual(t, base, Signature("income", []byte(`{"mode":"polygon"}`), zero))
}
