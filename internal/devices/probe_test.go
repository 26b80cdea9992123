package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFacing(t *testing.T) {
	tests := []struct {
		label string
		want  Facing
	}{
		{"Integrated Webcam", FacingUser},
		{"Back Camera", FacingEnvironment},
		{"camera rear", FacingEnvironment},
		{"Environment Facing Cam", FacingEnvironment},
		{"", FacingUser},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, classifyFacing(tc.label), tc.label)
	}
}

func TestFindDevice(t *testing.T) {
	list := []Device{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	d, ok := FindDevice(list, "b")
	assert.True(t, ok)
	assert.Equal(t, "b", d.ID)

	// Missing preference falls back to the first device.
	d, ok = FindDevice(list, "gone")
	assert.True(t, ok)
	assert.Equal(t, "a", d.ID)

	d, ok = FindDevice(list, "")
	assert.True(t, ok)
	assert.Equal(t, "a", d.ID)

	_, ok = FindDevice(nil, "a")
	assert.False(t, ok)
}

func TestNextCamera(t *testing.T) {
	cams := []Device{{ID: "front"}, {ID: "back"}}

	next, ok := NextCamera(cams, "front")
	assert.True(t, ok)
	assert.Equal(t, "back", next.ID)

	next, ok = NextCamera(cams, "back")
	assert.True(t, ok)
	assert.Equal(t, "front", next.ID)

	// Unknown current id restarts at the head of the list.
	next, ok = NextCamera(cams, "gone")
	assert.True(t, ok)
	assert.Equal(t, "front", next.ID)

	_, ok = NextCamera(nil, "front")
	assert.False(t, ok)
}
