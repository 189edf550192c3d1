package join

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func candidatesOf(name, raw string) []string {
	for _, st := range Strategies {
		if st.Name == name {
			return st.Candidates(raw)
		}
	}
	return nil
}

func TestStrategyOrder(t *testing.T) {
	// 策略表顺序即优先序：先精确，再数字变体，最后标签提取
	names := make([]string, 0, len(Strategies))
	for _, st := range Strategies {
		names = append(names, st.Name)
	}
	require.Equal(t, []string{"exact", "zero_pad", "label_code"}, names)
}

func TestExactCandidates(t *testing.T) {
	require.Equal(t, []string{"A1"}, candidatesOf("exact", " a1 "))
	require.Empty(t, candidatesOf("exact", "   "))
}

func TestZeroPadCandidates(t *testing.T) {
	require.Equal(t, []string{"00042"}, candidatesOf("zero_pad", "42"))
	require.Equal(t, []string{"7"}, candidatesOf("zero_pad", "0007")[1:])
	// 非纯数字不产生候选
	require.Empty(t, candidatesOf("zero_pad", "42A"))
	// 已达宽度的纯数字不补零
	require.Empty(t, candidatesOf("zero_pad", "12345"))
}

func TestLabelCodeCandidates(t *testing.T) {
	require.Equal(t, []string{"48001"}, candidatesOf("label_code", "Anderson County (48001), TX"))
	c := candidatesOf("label_code", "Zone 123 east")
	require.Contains(t, c, "123")
	require.Contains(t, c, "00123")
	require.Empty(t, candidatesOf("label_code", "no code here"))
}
