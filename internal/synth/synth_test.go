package synth

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"geolayer/internal/boundary"
	"geolayer/internal/join"
)

var testGeom = &boundary.Geometry{
	AreaID:      "00001",
	DisplayName: "一号区",
	Kind:        boundary.KindPolygon,
	Polys: []boundary.Polygon{{
		Rings: [][]boundary.Point{{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 2}, {Lat: 2, Lon: 2}, {Lat: 0, Lon: 0}}},
		BBox:  [4]float64{0, 0, 2, 2},
	}},
}

func joinedN(n int) []join.Joined {
	out := make([]join.Joined, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, join.Joined{
			AreaID:      fmt.Sprintf("%05d", i),
			DisplayName: fmt.Sprintf("区域 %d", i),
			Geometry:    testGeom,
			Score:       float64(n - i),
			HasScore:    true,
		})
	}
	return out
}

func TestVolumeCapTiers(t *testing.T) {
	cases := []struct {
		in, features, truncated int
	}{
		{100, 100, 0},
		{3999, 3999, 0},
		{4000, 4000, 0}, // 全量阈值以上、中档上限以内保持全量
		{6000, 6000, 0},
		{7000, 6000, 1000},
		{8000, 6000, 2000},
		{8001, 4000, 4001},
		{9000, 4000, 5000},
	}
	for _, c := range cases {
		l, err := Synthesize(joinedN(c.in), nil, "score")
		require.NoError(t, err, "in=%d", c.in)
		require.Len(t, l.Features, c.features, "in=%d", c.in)
		require.Equal(t, c.truncated, l.Truncated, "in=%d", c.in)
		require.Equal(t, 0, l.FilteredOut, "in=%d", c.in)
	}
}

func TestTruncationKeepsHead(t *testing.T) {
	// 记录有序（排名靠前在先），截断只切尾部
	l, err := Synthesize(joinedN(9000), nil, "score")
	require.NoError(t, err)
	require.Equal(t, "00000", l.Features[0].AreaID)
	require.Equal(t, "03999", l.Features[3999].AreaID)
}

func TestFiltersNoGeometryAndNoScore(t *testing.T) {
	recs := joinedN(10)
	recs[2].Geometry = nil
	recs[5].HasScore = false
	l, err := Synthesize(recs, nil, "score")
	require.NoError(t, err)
	require.Len(t, l.Features, 8)
	require.Equal(t, 2, l.FilteredOut)
}

func TestEmptyAfterFilterFails(t *testing.T) {
	recs := joinedN(3)
	for i := range recs {
		recs[i].Geometry = nil
	}
	l, err := Synthesize(recs, nil, "score")
	require.ErrorIs(t, err, ErrEmpty)
	require.Nil(t, l)

	l, err = Synthesize(nil, nil, "score")
	require.ErrorIs(t, err, ErrEmpty)
	require.Nil(t, l)
}

func TestLayerCarriesRendererAndExtent(t *testing.T) {
	renderer := json.RawMessage(`{"mode":"polygon","breaks":[1,2,3]}`)
	l, err := Synthesize(joinedN(5), renderer, "median_income")
	require.NoError(t, err)
	require.Equal(t, "median_income", l.TargetVariable)
	require.JSONEq(t, string(renderer), string(l.Renderer))
	require.Equal(t, [4]float64{0, 0, 2, 2}, l.Extent)
	// 几何为借用引用，不拷贝
	require.Same(t, testGeom, l.Features[0].Geometry)
}

func TestLayerIDsUnique(t *testing.T) {
	a, err := Synthesize(joinedN(1), nil, "v")
	require.NoError(t, err)
	b, err := Synthesize(joinedN(1), nil, "v")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}
