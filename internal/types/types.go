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

// Package types is the type checker's value vocabulary: the handful of
// concrete type representations mycelial source expressions can have.
//
// Resolving Open Question 2 (spec.md §9): strings, vectors, and maps are
// all 16-byte fat pointers uniformly (pointer + packed length/capacity in
// the second slot); every other value fits in a single 8-byte slot. That
// is recorded here as Type.Size, not left to each consumer to recompute.
package types

import "fmt"

// Kind identifies a type's shape.
type Kind int

const (
	Invalid Kind = iota
	Int
	Float
	Bool
	Str
	StructKind
	EnumKind
	Vec
	Map
	Tuple
	Func
	Void
)

// Type is a resolved mycelial type.
type Type struct {
	Kind Kind

	// Name is set for StructKind/EnumKind: the declared type's name.
	Name string

	// Elem is the element type for Vec, or the value type for Map.
	Elem *Type
	// Key is the key type for Map.
	Key *Type
	// Elems are the member types for Tuple, or the parameter types for Func.
	Elems []*Type
	// Result is the return type for Func.
	Result *Type
}

var (
	IntType   = &Type{Kind: Int}
	FloatType = &Type{Kind: Float}
	BoolType  = &Type{Kind: Bool}
	StrType   = &Type{Kind: Str}
	VoidType  = &Type{Kind: Void}
)

// Size returns the number of bytes a value of this type occupies in a
// state slot or signal payload field, per spec.md §3's layout rules:
// everything is 8 bytes except fat pointers (string, vec, map), which are
// 16.
func (t *Type) Size() int {
	switch t.Kind {
	case Str, Vec, Map:
		return 16
	default:
		return 8
	}
}

// Align returns this type's required alignment: its size, capped at 8, so
// the 16-byte fat-pointer representations align to 8.
func (t *Type) Align() int {
	if t.Size() >= 8 {
		return 8
	}
	return t.Size()
}

// String renders t for diagnostics.
func (t *Type) String() string {
	switch t.Kind {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Str:
		return "string"
	case Void:
		return "void"
	case StructKind, EnumKind:
		return t.Name
	case Vec:
		return fmt.Sprintf("vec<%s>", t.Elem)
	case Map:
		return fmt.Sprintf("map<%s, %s>", t.Key, t.Elem)
	case Tuple:
		return "tuple"
	case Func:
		return "func"
	default:
		return "invalid"
	}
}

// Equal reports whether t and u denote the same type.
func (t *Type) Equal(u *Type) bool {
	if t == nil || u == nil {
		return t == u
	}
	if t.Kind != u.Kind {
		return false
	}
	switch t.Kind {
	case StructKind, EnumKind:
		return t.Name == u.Name
	case Vec:
		return t.Elem.Equal(u.Elem)
	case Map:
		return t.Key.Equal(u.Key) && t.Elem.Equal(u.Elem)
	default:
		return true
	}
}

// Numeric reports whether t is an arithmetic type.
func (t *Type) Numeric() bool { return t.Kind == Int || t.Kind == Float }

// AssignableTo reports whether a value of type t may be assigned to a
// location of type u. Beyond identity, the only conversion the checker
// allows is int-to-float widening.
func (t *Type) AssignableTo(u *Type) bool {
	if t.Equal(u) {
		return true
	}
	return t.Kind == Int && u.Kind == Float
}
