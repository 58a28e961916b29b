package printer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRejectsUngroupedColumn(t *testing.T) {
	items := []SelectItem{{Kind: ItemGroupColumn, Name: "region", Reg: 0}}
	_, err := Build(items, nil)
	require.Error(t, err)
	var target *ErrNotGroupedOrAggregated
	require.ErrorAs(t, err, &target)
	require.Equal(t, "region", target.Column)
}

func TestBuildAcceptsGroupedColumn(t *testing.T) {
	items := []SelectItem{
		{Kind: ItemGroupColumn, Name: "region", Reg: 0},
		{Kind: ItemAggregate, Name: "total", Reg: 1},
	}
	prog, err := Build(items, []string{"region"})
	require.NoError(t, err)
	require.NotEmpty(t, prog.Store)
	require.NotEmpty(t, prog.Print)
}

func TestRenderJSON(t *testing.T) {
	items := []SelectItem{
		{Kind: ItemGroupColumn, Name: "region"},
		{Kind: ItemAggregate, Name: "total"},
	}
	rows := []Row{{Values: []Value{
		{Kind: ValueString, Str: "eu"},
		{Kind: ValueFloat, Float: 3.5},
	}}}
	out, err := Render(nil, items, rows, Format{JSON: true})
	require.NoError(t, err)
	require.Equal(t, `[{"region":"eu","total":3.500000}]`, out)
}

func TestRenderJSONNonFiniteFloatIsNull(t *testing.T) {
	items := []SelectItem{{Kind: ItemAggregate, Name: "avg"}}
	rows := []Row{{Values: []Value{{Kind: ValueFloat, Float: 0.0 / zero()}}}}
	out, err := Render(nil, items, rows, Format{JSON: true})
	require.NoError(t, err)
	require.Equal(t, `[{"avg":null}]`, out)
}

func zero() float64 { return 0 }

func TestRenderTSVWithHeader(t *testing.T) {
	items := []SelectItem{
		{Kind: ItemGroupColumn, Name: "region"},
		{Kind: ItemAggregate, Name: "total"},
	}
	rows := []Row{{Values: []Value{
		{Kind: ValueString, Str: "eu"},
		{Kind: ValueInt, Int: 7},
	}}}
	out, err := Render(nil, items, rows, Format{TSVHeader: true})
	require.NoError(t, err)
	require.Equal(t, "region\ttotal\neu\t7\n", out)
}

func TestRenderTSVNoHeaderWhenEmpty(t *testing.T) {
	items := []SelectItem{{Kind: ItemGroupColumn, Name: "region"}}
	out, err := Render(nil, items, nil, Format{TSVHeader: true})
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestWriteJSONStringASCIIEscapesNonASCII(t *testing.T) {
	var sb strings.Builder
	writeJSONString(&sb, "café", true)
	require.Equal(t, "\"caf\\u00e9\"", sb.String())
}

func TestWriteJSONStringUTF8ModePreservesNonASCII(t *testing.T) {
	var sb strings.Builder
	writeJSONString(&sb, "café", false)
	require.Equal(t, "\"café\"", sb.String())
}

func TestFormatDate(t *testing.T) {
	packed := int32(2024<<9 | 3<<5 | 7)
	require.Equal(t, "2024-03-07", formatDate(packed))
}
