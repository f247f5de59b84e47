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

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsExitCodeErrFindsADirectSentinel(t *testing.T) {
	want := &exitCodeErr{code: 2, err: errors.New("type error")}

	var got *exitCodeErr
	ok := asExitCodeErr(want, &got)
	require.True(t, ok)
	require.Same(t, want, got)
}

func TestAsExitCodeErrUnwrapsThroughWrapping(t *testing.T) {
	sentinel := &exitCodeErr{code: 3, err: errors.New("codegen error")}
	wrapped := fmt.Errorf("running build: %w", sentinel)

	var got *exitCodeErr
	ok := asExitCodeErr(wrapped, &got)
	require.True(t, ok)
	require.Equal(t, 3, got.code)
}

func TestAsExitCodeErrFailsForAnOrdinaryError(t *testing.T) {
	var got *exitCodeErr
	ok := asExitCodeErr(errors.New("no exit code here"), &got)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestExitCodeErrErrorMessageDelegatesToWrappedErr(t *testing.T) {
	e := &exitCodeErr{code: 4, err: errors.New("disk full")}
	require.Equal(t, "disk full", e.Error())
}
