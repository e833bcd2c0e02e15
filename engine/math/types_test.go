package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec2Arithmetic(t *testing.T) {
	a := Vec2{1, 2}
	b := Vec2{3, -4}

	assert.Equal(t, Vec2{4, -2}, a.Add(b))
	assert.Equal(t, Vec2{-2, 6}, a.Sub(b))
	assert.Equal(t, Vec2{2, 4}, a.Scale(2))
	assert.Equal(t, float32(-10), a.Cross(b))
	assert.Equal(t, float32(10), b.Cross(a), "cross is antisymmetric")
}

func TestVec4Arithmetic(t *testing.T) {
	a := Vec4{1, 2, 3, 4}
	b := Vec4{4, 3, 2, 1}

	assert.Equal(t, Vec4{5, 5, 5, 5}, a.Add(b))
	assert.Equal(t, Vec4{0.5, 1, 1.5, 2}, a.Scale(0.5))
}

func TestEdgeFunction(t *testing.T) {
	a := Vec2{0, 0}
	b := Vec2{4, 0}
	c := Vec2{0, 3}

	// Twice the triangle area, signed by winding.
	assert.Equal(t, float32(12), EdgeFunction(a, b, c))
	assert.Equal(t, float32(-12), EdgeFunction(b, a, c))

	// Collinear points span no area.
	assert.Equal(t, float32(0), EdgeFunction(Vec2{0, 0}, Vec2{1, 1}, Vec2{2, 2}))
}

func TestMin3Max3(t *testing.T) {
	assert.Equal(t, float32(1), Min3(3, 1, 2))
	assert.Equal(t, float32(3), Max3(3, 1, 2))
	assert.Equal(t, float32(-5), Min3(-5, -5, 0))
	assert.Equal(t, float32(0), Max3(-5, -5, 0))
	assert.Equal(t, float32(7), Min3(7, 7, 7))
	assert.Equal(t, float32(7), Max3(7, 7, 7))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(5, 0, 3))
	assert.Equal(t, 0, Clamp(-1, 0, 3))
	assert.Equal(t, 2, Clamp(2, 0, 3))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
	assert.Equal(t, uint32(16), Clamp(uint32(40), 1, 16))
}
