package handler

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hiveswap/hive-points/pkg/decoder"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)
	require.NotNil(t, r.handlers)
	require.Empty(t, r.handlers)
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(decoder.KindLock, func(ctx *Context) error { return nil })

	tests := []struct {
		name   string
		kind   decoder.Kind
		wantOK bool
	}{
		{
			name:   "existing handler",
			kind:   decoder.KindLock,
			wantOK: true,
		},
		{
			name:   "non-existent handler",
			kind:   decoder.KindBridgeSwapIn,
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, ok := r.Get(tc.kind)
			require.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				require.NotNil(t, h)
			} else {
				require.Nil(t, h)
			}
		})
	}
}

func TestRegisterOverwrite(t *testing.T) {
	r := NewRegistry()

	var callCount int
	handler1 := func(ctx *Context) error { callCount = 1; return nil }
	handler2 := func(ctx *Context) error { callCount = 2; return nil }

	r.Register(decoder.KindLock, handler1)
	r.Register(decoder.KindLock, handler2) // Overwrite

	h, ok := r.Get(decoder.KindLock)
	require.True(t, ok)

	err := h(&Context{})
	require.NoError(t, err)
	require.Equal(t, 2, callCount)
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name       string
		setupReg   func(*Registry)
		ctx        *Context
		wantErr    bool
		wantErrMsg string
	}{
		{
			name:     "nil event",
			setupReg: func(r *Registry) {},
			ctx: &Context{
				Event: nil,
			},
			wantErr:    true,
			wantErrMsg: "event is nil",
		},
		{
			name:     "no handler registered",
			setupReg: func(r *Registry) {},
			ctx: &Context{
				Event: &decoder.Event{Kind: decoder.KindLock},
			},
			wantErr: false, // Silent skip
		},
		{
			name: "handler success",
			setupReg: func(r *Registry) {
				r.Register(decoder.KindLock, func(ctx *Context) error {
					return nil
				})
			},
			ctx: &Context{
				Event: &decoder.Event{Kind: decoder.KindLock},
				Block: BlockInfo{
					Number: 10500000,
					Time:   1712150000,
				},
			},
			wantErr: false,
		},
		{
			name: "handler error",
			setupReg: func(r *Registry) {
				r.Register(decoder.KindBridgeSwapIn, func(ctx *Context) error {
					return errors.New("db error")
				})
			},
			ctx: &Context{
				Event: &decoder.Event{Kind: decoder.KindBridgeSwapIn},
				Block: BlockInfo{
					Number: 11044400,
				},
			},
			wantErr:    true,
			wantErrMsg: "handler mapSwapIn",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			tc.setupReg(r)

			err := r.Handle(tc.ctx)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErrMsg)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestHasHandler(t *testing.T) {
	r := NewRegistry()
	r.Register(decoder.KindAddLiquidity, func(ctx *Context) error { return nil })

	require.True(t, r.HasHandler(decoder.KindAddLiquidity))
	require.False(t, r.HasHandler(decoder.KindRemoveLiquidity))
}

func TestListHandlers(t *testing.T) {
	r := NewRegistry()

	// Empty registry
	handlers := r.ListHandlers()
	require.Empty(t, handlers)

	r.Register(decoder.KindLock, func(ctx *Context) error { return nil })
	r.Register(decoder.KindAddLiquidity, func(ctx *Context) error { return nil })
	r.Register(decoder.KindBridgeSwapIn, func(ctx *Context) error { return nil })

	handlers = r.ListHandlers()
	require.Len(t, handlers, 3)
	require.Contains(t, handlers, decoder.KindLock)
	require.Contains(t, handlers, decoder.KindAddLiquidity)
	require.Contains(t, handlers, decoder.KindBridgeSwapIn)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	numGoroutines := 100

	// Concurrent writes
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(decoder.KindLock, func(ctx *Context) error { return nil })
		}()
	}

	// Concurrent reads
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Get(decoder.KindLock)
			r.HasHandler(decoder.KindLock)
			r.ListHandlers()
		}()
	}

	wg.Wait()
	// Test passes if no race condition or panic occurs
	require.True(t, r.HasHandler(decoder.KindLock))
}

func TestContextFields(t *testing.T) {
	ctx := &Context{
		DB: &gorm.DB{},
		Block: BlockInfo{
			Number: 10500123,
			Hash:   "0xabc",
			Time:   1712150000,
		},
		Log: types.Log{
			Address: common.HexToAddress("0x1234"),
			TxHash:  common.HexToHash("0x5678"),
		},
		Event: &decoder.Event{Kind: decoder.KindLock},
	}

	require.NotNil(t, ctx.DB)
	require.Equal(t, uint64(10500123), ctx.Block.Number)
	require.Equal(t, "0xabc", ctx.Block.Hash)
	require.Equal(t, uint64(1712150000), ctx.Block.Time)
	require.Equal(t, common.HexToAddress("0x1234"), ctx.Log.Address)
	require.Equal(t, decoder.KindLock, ctx.Event.Kind)
}
