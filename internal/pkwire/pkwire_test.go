package pkwire

import (
	"testing"

	"github.com/logicalclocks/rdrs2go/internal/dal"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := dal.PKReadRequest{
		DB:          "fsdb",
		Table:       "sample_fg_1",
		OperationID: "op-123",
		Filters: []dal.Filter{
			{Column: "id", Value: []byte{0x01, 0x00, 0x00, 0x00}},
			{Column: "ts", Value: []byte{0xff, 0xee}},
		},
		ReadColumns: []dal.ReadColumn{
			{Name: "feature_a", ReturnType: 1},
			{Name: "feature_b", ReturnType: 2},
		},
	}

	buf, err := EncodeRequest(req, 4096)
	require.NoError(t, err)

	got, err := DecodeRequest(buf)
	require.NoError(t, err)

	require.Equal(t, req.DB, got.DB)
	require.Equal(t, req.Table, got.Table)
	require.Equal(t, req.OperationID, got.OperationID)
	require.Len(t, got.Filters, 2)
	require.Equal(t, "id", got.Filters[0].Column)
	require.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, got.Filters[0].Value)
	require.Equal(t, "ts", got.Filters[1].Column)
	require.Equal(t, []byte{0xff, 0xee}, got.Filters[1].Value)
	require.Len(t, got.ReadColumns, 2)
	require.Equal(t, "feature_a", got.ReadColumns[0].Name)
	require.EqualValues(t, 1, got.ReadColumns[0].ReturnType)
	require.Equal(t, "feature_b", got.ReadColumns[1].Name)
	require.EqualValues(t, 2, got.ReadColumns[1].ReturnType)
}

func TestEncodeRequestNoOptionalFields(t *testing.T) {
	req := dal.PKReadRequest{DB: "fsdb", Table: "t"}
	buf, err := EncodeRequest(req, 1024)
	require.NoError(t, err)

	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	require.Equal(t, "fsdb", got.DB)
	require.Equal(t, "t", got.Table)
	require.Empty(t, got.OperationID)
	require.Empty(t, got.Filters)
	require.Empty(t, got.ReadColumns)
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	resp := dal.PKReadResponse{
		OperationID: "op-9",
		Status:      200,
		Message:     "",
		Columns: []dal.ColumnValue{
			{Name: "id", Value: []byte{0x2a}, IsNull: false, DataType: 1},
			{Name: "optional_col", IsNull: true, DataType: 2},
		},
	}
	buf, err := EncodeResponse(resp, 2048)
	require.NoError(t, err)

	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	require.Equal(t, resp.OperationID, got.OperationID)
	require.Equal(t, resp.Status, got.Status)
	require.Len(t, got.Columns, 2)
	require.Equal(t, "id", got.Columns[0].Name)
	require.False(t, got.Columns[0].IsNull)
	require.Equal(t, []byte{0x2a}, got.Columns[0].Value)
	require.True(t, got.Columns[1].IsNull)
}

func TestEncodeResponseErrorStatusWithMessage(t *testing.T) {
	resp := dal.PKReadResponse{Status: 404, Message: "row not found"}
	buf, err := EncodeResponse(resp, 256)
	require.NoError(t, err)

	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	require.Equal(t, 404, got.Status)
	require.Equal(t, "row not found", got.Message)
}
