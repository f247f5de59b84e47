// Copyright 2025 The mycc Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prettyasm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelial-lang/mycc/internal/prettyasm"
)

func TestFormat_Labels(t *testing.T) {
	t.Parallel()

	fns := []prettyasm.Func{
		{
			Name: "agent$spore.on_tick",
			Code: []prettyasm.Inst{
				{Addr: 0x400100, Hex: []byte{0x48, 0x85, 0xc0}, Mnemonic: "testq", Args: []string{"%rax", "%rax"}},
				{Addr: 0x400103, Hex: []byte{0x74, 0x05}, Mnemonic: "je", Args: []string{"0x40010a"}, Target: 0x40010a},
				{Addr: 0x400105, Hex: []byte{0xc3}, Mnemonic: "retq"},
				{Addr: 0x40010a, Hex: []byte{0xc3}, Mnemonic: "retq"},
			},
		},
	}

	var buf strings.Builder
	require.NoError(t, prettyasm.Format(&buf, fns))

	out := buf.String()
	assert.Contains(t, out, "agent$spore.on_tick:")
	assert.Contains(t, out, "agent$spore.on_tick.L1:")
	assert.Contains(t, out, "je")
	assert.Contains(t, out, "agent$spore.on_tick.L1")
	assert.NotContains(t, out, "0x40010a,")
}

func TestFormat_Symbol(t *testing.T) {
	t.Parallel()

	fns := []prettyasm.Func{
		{
			Name: "agent$spore.dispatch",
			Code: []prettyasm.Inst{
				{Addr: 0x400200, Hex: []byte{0xe8, 0, 0, 0, 0}, Mnemonic: "callq", Args: []string{"agent$spore.on_tick"}, Symbol: "agent$spore.on_tick"},
			},
		},
	}

	var buf strings.Builder
	require.NoError(t, prettyasm.Format(&buf, fns))

	assert.Contains(t, buf.String(), "; agent$spore.on_tick")
}
