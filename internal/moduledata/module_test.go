package moduledata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aotwasm/sandboxrt/api"
)

func TestTrapTableLookup(t *testing.T) {
	table := TrapTable{
		{FuncBase: 0x2000, Offset: 0x10, Code: api.TrapCodeIntegerDivByZero},
		{FuncBase: 0x1000, Offset: 0x20, Code: api.TrapCodeHeapOutOfBounds},
		{FuncBase: 0x1000, Offset: 0x05, Code: api.TrapCodeStackOverflow},
	}
	table.Sort()

	code, ok := table.Lookup(0x1000 + 0x05)
	require.True(t, ok)
	require.Equal(t, api.TrapCodeStackOverflow, code)

	code, ok = table.Lookup(0x1000 + 0x20)
	require.True(t, ok)
	require.Equal(t, api.TrapCodeHeapOutOfBounds, code)

	code, ok = table.Lookup(0x2000 + 0x10)
	require.True(t, ok)
	require.Equal(t, api.TrapCodeIntegerDivByZero, code)

	_, ok = table.Lookup(0x1000 + 0x06)
	require.False(t, ok)
}

func TestMockExportsAndStart(t *testing.T) {
	m := NewMock().
		WithExport("onetwothree", 0x1000, api.Signature{Results: []api.ValueType{api.ValueTypeI32}}).
		WithTrap(0x1000, 0x8, api.TrapCodeHeapOutOfBounds)

	desc, ok := m.Export("onetwothree")
	require.True(t, ok)
	require.Equal(t, uintptr(0x1000), desc.Address)

	_, ok = m.Export("missing")
	require.False(t, ok)

	require.Equal(t, []string{"onetwothree"}, m.ExportNames())

	code, ok := m.LookupTrap(0x1008)
	require.True(t, ok)
	require.Equal(t, api.TrapCodeHeapOutOfBounds, code)

	_, ok = m.StartFunction()
	require.False(t, ok)

	start := api.FunctionDescriptor{Name: "_start", Address: 0x2000, IsStart: true}
	m.Start = &start
	got, ok := m.StartFunction()
	require.True(t, ok)
	require.Equal(t, start, got)
}

func TestMockGlobalsSize(t *testing.T) {
	m := NewMock()
	m.GlobalList = []api.GlobalSpec{
		{Type: api.ValueTypeI32, Initial: 1},
		{Type: api.ValueTypeI64, Initial: 2},
	}
	require.Equal(t, uint64(16), m.GlobalsSize())
}

func TestMockSymbolAt(t *testing.T) {
	m := NewMock()
	m.Symbols[0x3000] = struct{ File, Symbol string }{File: "guest.wasm", Symbol: "onetwothree"}

	file, symbol, ok := m.SymbolAt(0x3000)
	require.True(t, ok)
	require.Equal(t, "guest.wasm", file)
	require.Equal(t, "onetwothree", symbol)

	_, _, ok = m.SymbolAt(0x4000)
	require.False(t, ok)
}
