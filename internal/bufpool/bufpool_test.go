package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetReusesPreAllocated(t *testing.T) {
	p := New(Config{ReqBufferSize: 256, RespBufferSize: 256, PreAllocatedBuffers: 2})

	b1 := p.GetRequest()
	require.Len(t, b1, 256)
	stats := p.RequestStats()
	require.EqualValues(t, 0, stats.Allocations)
	require.EqualValues(t, 1, stats.Live)
	require.EqualValues(t, 1, stats.Free)
}

func TestGetAllocatesFreshWhenExhausted(t *testing.T) {
	p := New(Config{ReqBufferSize: 64, RespBufferSize: 64, PreAllocatedBuffers: 1})

	_ = p.GetRequest()
	_ = p.GetRequest() // exhausts the pre-allocated buffer

	stats := p.RequestStats()
	require.EqualValues(t, 1, stats.Allocations)
	require.EqualValues(t, 2, stats.Live)
}

func TestPutReturnsToFreeList(t *testing.T) {
	p := New(Config{ReqBufferSize: 32, RespBufferSize: 32, PreAllocatedBuffers: 1})

	b := p.GetRequest()
	p.PutRequest(b)

	stats := p.RequestStats()
	require.EqualValues(t, 1, stats.Deallocations)
	require.EqualValues(t, 0, stats.Live)
	require.EqualValues(t, 1, stats.Free)
}
