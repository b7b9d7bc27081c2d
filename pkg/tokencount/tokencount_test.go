// Copyright © 2026 AgenticCurve - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateEmpty(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
}

func TestEstimateNonEmpty(t *testing.T) {
	n := Estimate("What is 2+2? Reply with just the number.")
	assert.Greater(t, n, 0)
}

func TestApproximateFallback(t *testing.T) {
	c := &Counter{encoder: nil}
	assert.Equal(t, 1, c.Count("hi"))
	assert.Equal(t, 10, c.Count("0123456789012345678901234567890123456789"))
}

func TestCountMonotoneInLength(t *testing.T) {
	short := Estimate("hello")
	long := Estimate("hello hello hello hello hello hello hello hello")
	assert.GreaterOrEqual(t, long, short)
}
