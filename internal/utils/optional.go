// Package utils holds the small generic helpers behind the partial-update
// types: optional fields are pointers, and nil means "leave as is".
package utils

import "github.com/spf13/pflag"

func Ptr[T any](v T) *T {
	return &v
}

// Value dereferences v, returning the zero value for nil.
func Value[T any](v *T) T {
	var zero T
	return ValueOr(v, zero)
}

func ValueOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}

// Assign copies *v into dst when v is set.
func Assign[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Changed returns a pointer to v when the named flag was given on the command
// line, and nil otherwise, so untouched flags stay out of a patch.
func Changed[T any](flags *pflag.FlagSet, name string, v T) *T {
	if !flags.Changed(name) {
		return nil
	}
	return &v
}
